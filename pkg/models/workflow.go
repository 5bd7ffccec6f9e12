// Package models defines the workflow and task records shared across the gateway.
package models

import "time"

type WorkflowStatus string

const (
	WorkflowReleased   WorkflowStatus = "RELEASED"
	WorkflowUnreleased WorkflowStatus = "UNRELEASED"
)

// WildcardTenant owns workflows visible to every tenant.
const WildcardTenant int64 = -1

// InputParam declares one public input parameter of a workflow. Params are
// applied in declaration order during parameterization.
type InputParam struct {
	Name     string `json:"name"     validate:"required"`
	Title    string `json:"title"`
	Type     string `json:"type"     validate:"required"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
	RuleType string `json:"rule_type,omitempty"`
}

// OutputParam declares one public output parameter of a workflow.
type OutputParam struct {
	Name  string `json:"name"  validate:"required"`
	Title string `json:"title"`
	Type  string `json:"type"  validate:"required"`
}

// Workflow binds a public parameter schema to a job-graph template through
// path-expression mappings. Created by the admin surface, read-only here.
type Workflow struct {
	ID          string `json:"id"          validate:"required"`
	TenantID    int64  `json:"tenant_id"`
	Name        string `json:"name"        validate:"required,min=3"`
	Description string `json:"description"`

	InputParams   []InputParam      `json:"input_params"`
	OutputParams  []OutputParam     `json:"output_params"`
	InputMapping  map[string]string `json:"input_mapping"`
	OutputMapping map[string]string `json:"output_mapping"`

	// Hook identifiers resolved through the hooks registry, in order.
	BeforeHooks []string `json:"before_hooks,omitempty"`
	AfterHooks  []string `json:"after_hooks,omitempty"`

	// Object-store keys for the job-graph template and the optional
	// JSON Schema document describing the public input values.
	TemplateKey string `json:"template_key" validate:"required"`
	SchemaKey   string `json:"schema_key,omitempty"`

	Status    WorkflowStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// VisibleTo reports whether a tenant may use this workflow. The wildcard
// tenant's workflows are visible to everyone.
func (w *Workflow) VisibleTo(tenantID int64) bool {
	return w.TenantID == WildcardTenant || w.TenantID == tenantID
}
