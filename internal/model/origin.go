package model

// OriginClass classifies the network a request arrived from.
type OriginClass string

// Origin classes.
const (
	OriginLAN       OriginClass = "lan"
	OriginVPNRemote OriginClass = "vpn_remote"
	OriginUnknown   OriginClass = "unknown"
)

// Operation is a kind of request subject to the authorization policy.
type Operation string

// Operations.
const (
	OpReadInventory            Operation = "read_inventory"
	OpReadPersonnelStatus      Operation = "read_personnel_status"
	OpCreateCustodyTransaction Operation = "create_custody_transaction"
	OpModifyPersonnel          Operation = "modify_personnel"
	OpModifyItem               Operation = "modify_item"
	OpAdminFunctions           Operation = "admin_functions"
)

// Operations lists every operation known to the policy.
var Operations = []Operation{
	OpReadInventory,
	OpReadPersonnelStatus,
	OpCreateCustodyTransaction,
	OpModifyPersonnel,
	OpModifyItem,
	OpAdminFunctions,
}

// Mutating reports whether the operation changes state.
func (o Operation) Mutating() bool {
	return o != OpReadInventory && o != OpReadPersonnelStatus
}
