package localstore

// Index declares a secondary index over a JSON field of the stored records.
type Index struct {
	Name   string
	Field  string
	Unique bool
}

// Collection declares a named record set with a primary key path and zero or
// more secondary indexes.
type Collection struct {
	Name    string
	KeyPath string
	Indexes []Index
}

// Schema is the versioned collection layout. Upgrading to a newer version
// must carry existing records forward untouched; only one version exists
// today.
type Schema struct {
	Version     int
	Collections []Collection
}

// Collection names are part of the durable on-disk contract shared with the
// external synchronizer; do not rename them.
const (
	CollProducts     = "products"
	CollCustomers    = "customers"
	CollInventory    = "inventory"
	CollTransactions = "transactions"
	CollShifts       = "shifts"
	CollCashDrawers  = "cash_drawers"
	CollSyncQueue    = "sync_queue"
	CollReceipts     = "receipts"
)

// DefaultSchema enumerates every collection the terminal persists, with the
// uniqueness constraints the entities require.
func DefaultSchema() Schema {
	return Schema{
		Version: 1,
		Collections: []Collection{
			{
				Name:    CollProducts,
				KeyPath: "id",
				Indexes: []Index{
					{Name: "barcode", Field: "barcode", Unique: true},
					{Name: "category", Field: "category"},
				},
			},
			{
				Name:    CollCustomers,
				KeyPath: "id",
				Indexes: []Index{
					{Name: "phone", Field: "phone", Unique: true},
					{Name: "email", Field: "email", Unique: true},
				},
			},
			{
				Name:    CollInventory,
				KeyPath: "id",
				Indexes: []Index{
					{Name: "product_id", Field: "product_id", Unique: true},
				},
			},
			{
				Name:    CollTransactions,
				KeyPath: "id",
				Indexes: []Index{
					{Name: "status", Field: "status"},
					{Name: "operator_id", Field: "operator_id"},
					{Name: "sync_status", Field: "sync_status"},
				},
			},
			{
				Name:    CollShifts,
				KeyPath: "id",
				Indexes: []Index{
					{Name: "operator_id", Field: "operator_id"},
					{Name: "status", Field: "status"},
				},
			},
			{
				Name:    CollCashDrawers,
				KeyPath: "id",
				Indexes: []Index{
					{Name: "shift_id", Field: "shift_id", Unique: true},
				},
			},
			{
				Name:    CollSyncQueue,
				KeyPath: "id",
				Indexes: []Index{
					{Name: "status", Field: "status"},
					{Name: "entity_type", Field: "entity_type"},
				},
			},
			{
				Name:    CollReceipts,
				KeyPath: "id",
				Indexes: []Index{
					{Name: "transaction_id", Field: "transaction_id", Unique: true},
				},
			},
		},
	}
}

// Lookup returns the named collection definition.
func (s Schema) Lookup(name string) (Collection, bool) {
	for _, c := range s.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}
