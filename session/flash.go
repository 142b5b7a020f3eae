package session

type Flash struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func FlashInfo(msg string) Flash {
	return Flash{
		Type:    "info",
		Message: msg,
	}
}

func FlashError(msg string) Flash {
	return Flash{
		Type:    "danger",
		Message: msg,
	}
}
