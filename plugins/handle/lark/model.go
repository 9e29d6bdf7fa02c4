package lark

// Lark custom-bot webhook wire format.

type webhookMessage struct {
	MsgType string `json:"msg_type"`
	Card    any    `json:"card,omitempty"`
}

type webhookResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
