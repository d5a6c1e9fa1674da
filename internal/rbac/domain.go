package rbac

// Capability names understood by the permission checks. A capability grant
// bypasses per-shop authorization.
const (
	// CapAdminAll grants everything.
	CapAdminAll = "admin:all"
	// CapShopManage grants mutation rights across all shops.
	CapShopManage = "shop:manage"
	// CapTransferView grants read access to transfer listings.
	CapTransferView = "transfer:view"
)
