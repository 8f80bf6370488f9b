package framework

type (
	Type        string
	StatusState string
)

const (
	// List of all service

	Status       Type = "status"
	Organization Type = "organization"
	Credential   Type = "credential"

	StatusReady    StatusState = "ready"
	StatusNotReady StatusState = "not_ready"
)

// ServiceStatus is for service reporting on their status
type ServiceStatus struct {
	Status  StatusState `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Service is an interface each service must comply with to be registered and orchestrated by the http.
type Service interface {
	Type() Type
	Status() ServiceStatus
}
