package knowledge

// Messages holds the fixed user-facing texts. The refusal text doubles as the marker the
// model is told to reply with, so it must stay stable for a deployment.
type Messages struct {
	Refusal        string `yaml:"refusal" json:"refusal"`
	EmptyQuestion  string `yaml:"empty_question" json:"empty_question"`
	Unavailable    string `yaml:"unavailable" json:"unavailable"`
	Handoff        string `yaml:"handoff" json:"handoff"`
	StorageFailure string `yaml:"storage_failure" json:"storage_failure"`
	TooLong        string `yaml:"too_long" json:"too_long"`
}

func DefaultMessages() Messages {
	return Messages{
		Refusal:        "申し訳ありませんが、その質問にはお答えできません。別の質問をしてください。",
		EmptyQuestion:  "質問が空です。",
		Unavailable:    "ただいまサービスを利用できません。しばらくしてから再度お試しください。",
		Handoff:        "担当者が間もなく対応いたします。しばらくお待ちください。",
		StorageFailure: "現在リクエストを処理できません。しばらくしてから再度お試しください。",
		TooLong:        "質問が長すぎます。短くしてもう一度お試しください。",
	}
}

// Merge returns m with every non-empty field of o applied on top.
func (m Messages) Merge(o Messages) Messages {
	if o.Refusal != "" {
		m.Refusal = o.Refusal
	}
	if o.EmptyQuestion != "" {
		m.EmptyQuestion = o.EmptyQuestion
	}
	if o.Unavailable != "" {
		m.Unavailable = o.Unavailable
	}
	if o.Handoff != "" {
		m.Handoff = o.Handoff
	}
	if o.StorageFailure != "" {
		m.StorageFailure = o.StorageFailure
	}
	if o.TooLong != "" {
		m.TooLong = o.TooLong
	}
	return m
}
