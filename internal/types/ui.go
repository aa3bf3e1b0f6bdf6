package types

type Appearance struct {
	Color     string  `json:"color"`
	Opacity   float64 `json:"opacity"`
	LabelText string  `json:"label_text"`
}

type OverlayMessage struct {
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
}

type AppearanceMessage struct {
	Type string `json:"type"`
	Appearance
}

type TransitionMessage struct {
	Type string `json:"type"`
	TransitionRecord
}
