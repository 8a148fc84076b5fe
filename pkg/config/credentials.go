package config

import (
	"fmt"
	"os"
	"strings"
)

// ConfigurationError reports required settings that are absent. Missing holds
// environment variable names in declaration order.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Missing, ", "))
}

// Credentials are the service-principal settings the token chain runs with.
// Values are read once at startup and passed around by value.
type Credentials struct {
	InstanceURL            string
	DashboardID            string
	ServicePrincipalID     string
	ServicePrincipalSecret string
	ExternalViewerID       string
	ExternalValue          string
}

func CredentialsFromEnv() Credentials {
	return Credentials{
		InstanceURL:            strings.TrimRight(os.Getenv("DATABRICKS_INSTANCE_URL"), "/"),
		DashboardID:            os.Getenv("DATABRICKS_DASHBOARD_ID"),
		ServicePrincipalID:     os.Getenv("SERVICE_PRINCIPAL_ID"),
		ServicePrincipalSecret: os.Getenv("SERVICE_PRINCIPAL_SECRET"),
		ExternalViewerID:       os.Getenv("EXTERNAL_VIEWER_ID"),
		ExternalValue:          os.Getenv("EXTERNAL_VALUE"),
	}
}

// Validate returns a *ConfigurationError listing every empty field, or nil.
func (c Credentials) Validate() error {
	return missing(
		field{"DATABRICKS_INSTANCE_URL", c.InstanceURL},
		field{"DATABRICKS_DASHBOARD_ID", c.DashboardID},
		field{"SERVICE_PRINCIPAL_ID", c.ServicePrincipalID},
		field{"SERVICE_PRINCIPAL_SECRET", c.ServicePrincipalSecret},
		field{"EXTERNAL_VIEWER_ID", c.ExternalViewerID},
		field{"EXTERNAL_VALUE", c.ExternalValue},
	)
}

// DashboardEmbed is the public part of the configuration a browser needs to
// place the published dashboard.
type DashboardEmbed struct {
	InstanceURL string `json:"instanceUrl"`
	WorkspaceID string `json:"workspaceId"`
	DashboardID string `json:"dashboardId"`
}

func DashboardEmbedFromEnv() DashboardEmbed {
	return DashboardEmbed{
		InstanceURL: strings.TrimRight(os.Getenv("DATABRICKS_INSTANCE_URL"), "/"),
		WorkspaceID: os.Getenv("DATABRICKS_WORKSPACE_ID"),
		DashboardID: os.Getenv("DATABRICKS_DASHBOARD_ID"),
	}
}

func (d DashboardEmbed) Validate() error {
	return missing(
		field{"DATABRICKS_INSTANCE_URL", d.InstanceURL},
		field{"DATABRICKS_WORKSPACE_ID", d.WorkspaceID},
		field{"DATABRICKS_DASHBOARD_ID", d.DashboardID},
	)
}

type field struct{ name, value string }

func missing(fields ...field) error {
	var names []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &ConfigurationError{Missing: names}
}
