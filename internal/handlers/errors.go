package handlers

// EndpointError is an RPC failure surfaced to the caller as
// {status:"error", code, message}.
type EndpointError struct {
	Code    string
	Message string
}

func (e *EndpointError) Error() string {
	return e.Code + ": " + e.Message
}

func errInvalidEndpoint() *EndpointError {
	return &EndpointError{Code: "invalidEndpoint", Message: "Invalid method!"}
}

func errInvalidArgument(name string) *EndpointError {
	return &EndpointError{Code: "invalidArguments", Message: "The " + name + " argument is not valid!"}
}

func errUserNotFound() *EndpointError {
	return &EndpointError{Code: "userNotFound", Message: "The user specified does not exist!"}
}
