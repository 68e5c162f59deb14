package domain

// Role is the resolved role of the caller.
type Role string

const (
	RoleClient     Role = "client"
	RoleDispatcher Role = "dispatcher"
	RoleDriver     Role = "driver"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleClient || r == RoleDispatcher || r == RoleDriver
}

// Actor is the (tenant, actor, role) triple resolved by the authentication
// collaborator and supplied with every core operation.
type Actor struct {
	TenantID string
	ID       string
	Role     Role
}

// Member is a tenant user known to the directory collaborator.
type Member struct {
	UserID   string
	TenantID string
	Role     Role
	Name     string
}

// Catalog is the set of inputs a tenant accepts on request creation.
type Catalog struct {
	TenantID   string
	WasteTypes []string
	SLAClasses []SLAClass
	FillLevels []FillLevel
}

// AllowsWasteType reports whether the catalog lists the waste type.
func (c *Catalog) AllowsWasteType(wasteType string) bool {
	for _, w := range c.WasteTypes {
		if w == wasteType {
			return true
		}
	}
	return false
}

// AllowsSLAClass reports whether the catalog lists the SLA class.
func (c *Catalog) AllowsSLAClass(class SLAClass) bool {
	for _, s := range c.SLAClasses {
		if s == class {
			return true
		}
	}
	return false
}

// AllowsFillLevel reports whether the catalog lists the fill level.
// An empty list accepts every known fill level.
func (c *Catalog) AllowsFillLevel(level FillLevel) bool {
	if len(c.FillLevels) == 0 {
		return level.IsValid()
	}
	for _, f := range c.FillLevels {
		if f == level {
			return true
		}
	}
	return false
}
