package mcpclient

// ProxyPollOpts are options for ProxyPoll.
type ProxyPollOpts struct {
	Source   string
	Host     string
	Path     string
	Method   string
	HasToken bool
	Since    string
	Limit    int
	Offset   int
}

// PasetoEditOpts are options for PasetoEdit. Nil part fields keep the original section.
type PasetoEditOpts struct {
	Token   string
	Version *string
	Purpose *string
	Payload *string
	Footer  *string
	Send    bool
}

// RequestSendOpts are options for RequestSend.
type RequestSendOpts struct {
	Request string
	FlowID  string
	Host    string
	Port    int
	HTTPS   bool
	Timeout string
}
