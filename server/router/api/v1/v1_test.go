package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/supportdesk/ai/answer"
	"github.com/hrygo/supportdesk/ai/core/llm/llmtest"
	"github.com/hrygo/supportdesk/ai/knowledge"
	"github.com/hrygo/supportdesk/ai/metrics"
	"github.com/hrygo/supportdesk/ai/pipeline"
	"github.com/hrygo/supportdesk/internal/profile"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels/line"
	"github.com/hrygo/supportdesk/store"
	"github.com/hrygo/supportdesk/store/db/sqlite"
)

const kbYAML = `
data:
  - topic: hours
    rule: We are open from 9am to 5pm on weekdays.
examples:
  - When are you open?
messages:
  refusal: Sorry, I cannot answer that question.
  empty_question: The question is empty.
  handoff: An operator will contact you shortly.
  storage_failure: Please try again later.
`

const lineSecret = "line-secret"

type lineAPI struct {
	mu       sync.Mutex
	replies  []map[string]any
	failures int // requests to reject with 500 before accepting
	requests int
}

func (l *lineAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests++
	if l.failures > 0 {
		l.failures--
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	l.replies = append(l.replies, body)
	w.WriteHeader(http.StatusOK)
}

func (l *lineAPI) texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, r := range l.replies {
		msgs, _ := r["messages"].([]any)
		for _, m := range msgs {
			out = append(out, m.(map[string]any)["text"].(string))
		}
	}
	return out
}

type fixture struct {
	echo     *echo.Echo
	service  *APIV1Service
	store    *store.Store
	llm      *llmtest.MockLLM
	exporter *metrics.PrometheusExporter
	line     *lineAPI
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kb, err := knowledge.Parse([]byte(kbYAML), 0)
	require.NoError(t, err)

	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db"), Version: "test"}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	mock := llmtest.NewMockLLM().
		WithResponse("When are you open", "We are open from 9am to 5pm on weekdays.").
		WithDefaultResponse("Sorry, I cannot answer that question.")
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	engine := answer.NewEngine(mock, time.Second, kb.Messages(), exporter)
	pipe := pipeline.New(st, kb, engine, pipeline.Config{HistoryWindow: 10, MaxQuestionLength: 200, HandoffPhrase: "request human agent"}, nil, exporter)

	api := &lineAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	ch, err := line.NewChannel(&line.Config{ChannelSecret: lineSecret, ChannelAccessToken: "tok", APIBaseURL: srv.URL})
	require.NoError(t, err)
	router := channels.NewChannelRouter()
	router.Register(ch)

	svc := NewAPIV1Service(p, pipe, router, exporter, nil)
	svc.SetDispatcher(func(fn func()) { fn() })
	e := echo.New()
	svc.RegisterRoutes(e)

	return &fixture{echo: e, service: svc, store: st, llm: mock, exporter: exporter, line: api}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func askRequestFor(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func decodeAsk(t *testing.T, rec *httptest.ResponseRecorder) askResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	var resp askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAskAnswersAndStoresExchange(t *testing.T) {
	f := newFixture(t)

	resp := decodeAsk(t, f.do(askRequestFor(`{"message":"When are you open?","conversation_id":"web-1"}`)))
	assert.Equal(t, "We are open from 9am to 5pm on weekdays.", resp.Answer)
	assert.Equal(t, "web-1", resp.ConversationID)
	assert.False(t, resp.Escalated)

	conv := "web-1"
	turns, err := f.store.ListTurns(context.Background(), &store.FindTurn{ConversationID: &conv})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, store.SenderUser, turns[0].Sender)
	assert.Equal(t, store.SenderBot, turns[1].Sender)
}

func TestAskSessionCookie(t *testing.T) {
	f := newFixture(t)

	rec := f.do(askRequestFor(`{"message":"When are you open?"}`))
	resp := decodeAsk(t, rec)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, cookies[0].Value, resp.ConversationID)

	req := askRequestFor(`{"message":"When are you open?"}`)
	req.AddCookie(cookies[0])
	rec = f.do(req)
	assert.Equal(t, cookies[0].Value, decodeAsk(t, rec).ConversationID)
	assert.Empty(t, rec.Result().Cookies())
}

func TestAskValidation(t *testing.T) {
	f := newFixture(t)

	resp := decodeAsk(t, f.do(askRequestFor(`{"message":"   ","conversation_id":"web-1"}`)))
	assert.Equal(t, "The question is empty.", resp.Answer)

	resp = decodeAsk(t, f.do(askRequestFor(`{not json`)))
	assert.Equal(t, "The question is empty.", resp.Answer)

	assert.Zero(t, f.llm.Calls())
	n, err := f.store.CountTurns(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAskEscalation(t *testing.T) {
	f := newFixture(t)

	resp := decodeAsk(t, f.do(askRequestFor(`{"message":"Request Human Agent","conversation_id":"web-2"}`)))
	assert.Equal(t, "An operator will contact you shortly.", resp.Answer)
	assert.True(t, resp.Escalated)

	resp = decodeAsk(t, f.do(askRequestFor(`{"message":"What is the meaning of life?","conversation_id":"web-2"}`)))
	assert.Equal(t, "An operator will contact you shortly.", resp.Answer)
	assert.True(t, resp.Escalated)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.do(askRequestFor(`{"message":"When are you open?","conversation_id":"a"}`))
	f.do(askRequestFor(`{"message":"When are you open?","conversation_id":"b"}`))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/history?conversation_id=a", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var items []historyItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, historyItem{Sender: "user", Message: "When are you open?"}, items[0])
	assert.Equal(t, "bot", items[1].Sender)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/history", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 4)
}

func TestExamplesAndHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/examples", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"examples":["When are you open?"]}`, rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, rec.Body.String())
}

const lineDelivery = `{"destination":"Ubot","events":[{"type":"message","replyToken":"rt-1",
"source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":"When are you open?"}}]}`

func lineCallback(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(line.SignatureHeader, signature)
	}
	return req
}

func TestLineCallback(t *testing.T) {
	f := newFixture(t)

	rec := f.do(lineCallback(lineDelivery, line.Sign(lineSecret, []byte(lineDelivery))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	f.service.Wait()

	assert.Equal(t, []string{"We are open from 9am to 5pm on weekdays."}, f.line.texts())
	conv := "line:U1"
	n, err := f.store.CountTurns(context.Background(), &conv)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	snap := f.service.WebhookHealth.Get("line")
	require.NotNil(t, snap)
	assert.EqualValues(t, 1, snap.ResponsesSent)
}

func TestLineCallbackRetriesTransientSendFailure(t *testing.T) {
	orig := sendRetryDelay
	sendRetryDelay = time.Millisecond
	t.Cleanup(func() { sendRetryDelay = orig })

	f := newFixture(t)
	f.line.failures = 1

	rec := f.do(lineCallback(lineDelivery, line.Sign(lineSecret, []byte(lineDelivery))))
	require.Equal(t, http.StatusOK, rec.Code)
	f.service.Wait()

	assert.Equal(t, []string{"We are open from 9am to 5pm on weekdays."}, f.line.texts())
	f.line.mu.Lock()
	assert.Equal(t, 2, f.line.requests)
	f.line.mu.Unlock()

	// A second failure is not retried again.
	f.line.mu.Lock()
	f.line.failures = 2
	f.line.mu.Unlock()
	rec = f.do(lineCallback(lineDelivery, line.Sign(lineSecret, []byte(lineDelivery))))
	require.Equal(t, http.StatusOK, rec.Code)
	f.service.Wait()
	f.line.mu.Lock()
	assert.Equal(t, 4, f.line.requests)
	f.line.mu.Unlock()
	snap := f.service.WebhookHealth.Get("line")
	require.NotNil(t, snap)
	assert.EqualValues(t, 1, snap.ResponseErrors)
}

func TestLineCallbackRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	for _, sig := range []string{"", line.Sign("wrong", []byte(lineDelivery))} {
		rec := f.do(lineCallback(lineDelivery, sig))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	f.service.Wait()

	assert.Zero(t, f.llm.Calls())
	assert.Empty(t, f.line.texts())
	n, err := f.store.CountTurns(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	text, err := f.exporter.ExportText()
	require.NoError(t, err)
	assert.Contains(t, text, `supportdesk_webhook_rejections_total{platform="line",reason="signature"} 2`)
}

func TestCallbackErrors(t *testing.T) {
	f := newFixture(t)

	body := `{"events": [`
	rec := f.do(lineCallback(body, line.Sign(lineSecret, []byte(body))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/callback/telegram", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/callback/web", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/callback/irc", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallbackEmptyDelivery(t *testing.T) {
	f := newFixture(t)

	body := `{"destination":"Ubot","events":[]}`
	rec := f.do(lineCallback(body, line.Sign(lineSecret, []byte(body))))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.llm.Calls())
}

func TestNewChannelRouterFromProfile(t *testing.T) {
	router := NewChannelRouter(&profile.Profile{LINEChannelSecret: "s", LINEChannelAccessToken: "t"})
	assert.NotNil(t, router.GetChannel("line"))
	assert.Nil(t, router.GetChannel("telegram"))

	router = NewChannelRouter(&profile.Profile{})
	assert.Empty(t, router.Platforms())
}
