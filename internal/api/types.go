package api

type ConnectRequest struct {
	PhoneNumber string `json:"phone_number"`
	RequestQR   bool   `json:"request_qr"`
}

type ConnectResponse struct {
	PhoneNumber string `json:"phone_number"`
	State       string `json:"state"`
	QRCodeURL   string `json:"qr_code_url,omitempty"`
}

type SendRequest struct {
	PhoneNumber   string `json:"phone_number"`
	Destination   string `json:"destination"`
	Text          string `json:"text"`
	Kind          string `json:"kind"` // reply or bulk, default bulk
	AppointmentID *int64 `json:"appointment_id,omitempty"`
	// AwaitReply opens a patient reply window once the message is
	// delivered.
	AwaitReply bool `json:"await_reply"`
}

type SendResponse struct {
	Queued bool `json:"queued"`
}

type DisconnectRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
