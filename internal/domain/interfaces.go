package domain

import (
	"context"
)

// OntologySource gives access to a vocabulary of terms. Knowledge bases of
// disease records share the same record shape and are served through it too.
type OntologySource interface {
	Name() string
	Size(ctx context.Context) (int, error)
	EnumerateAllTerms(ctx context.Context) ([]*Term, error)
	GetTerm(ctx context.Context, id string) (*Term, error)
	GetParents(ctx context.Context, term *Term) ([]*Term, error)
}

// PatientDataSource resolves patients by identifier
type PatientDataSource interface {
	GetPatient(ctx context.Context, id string) (*Patient, error)
}

// PatientRepository defines the interface for patient data persistence
type PatientRepository interface {
	PatientDataSource
	SavePatient(ctx context.Context, patient *Patient) error
	DeletePatient(ctx context.Context, id string) error
	ListPatientIDs(ctx context.Context) ([]string, error)
}

// AccessPolicy decides which access level a viewer holds on a patient
type AccessPolicy interface {
	PatientAccess(ctx context.Context, patient *Patient) (AccessDecision, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
