package config

import (
	"sync"
)

const (
	ServiceName    = "traceability-service"
	ServiceVersion = "0.1.0"
	APIVersion     = "v1"
)

var (
	si   *serviceInfo
	once sync.Once
)

// getServiceInfo provides serviceInfo as a singleton
func getServiceInfo() *serviceInfo {
	once.Do(func() {
		si = &serviceInfo{
			name: ServiceName,
			description: "The Traceability Service issues verifiable credentials for organizations and tracks their " +
				"revocation and suspension in published status lists.",
			version: ServiceVersion,
		}
	})
	return si
}

// serviceInfo is intended to be a read-only singleton object for static service info
type serviceInfo struct {
	name        string
	description string
	version     string
}

func Name() string {
	return getServiceInfo().name
}

func Description() string {
	return getServiceInfo().description
}

func Version() string {
	return getServiceInfo().version
}
