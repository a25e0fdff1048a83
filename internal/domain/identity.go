package domain

// UserRole é o papel do chamador, extraído do JWT emitido pelo serviço de autenticação.
type UserRole string

const (
	RoleAdmin       UserRole = "admin"
	RoleIndustry    UserRole = "industry"
	RoleTransporter UserRole = "transporter"
	RoleLogistician UserRole = "logistician"
	RoleForwarder   UserRole = "forwarder"
	RoleSupplier    UserRole = "supplier"
	RoleRecipient   UserRole = "recipient"
)

// CompanyRoles são os papéis dos portais das empresas.
var CompanyRoles = []UserRole{RoleIndustry, RoleTransporter, RoleLogistician, RoleForwarder, RoleSupplier, RoleRecipient}

// Identity é a identidade autenticada de uma requisição.
type Identity struct {
	UserID    string   `json:"userId"`
	CompanyID string   `json:"companyId"`
	Role      UserRole `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// ActsFor indica se o chamador pode agir em nome da empresa.
func (i Identity) ActsFor(companyID string) bool {
	return i.IsAdmin() || (i.CompanyID != "" && i.CompanyID == companyID)
}
