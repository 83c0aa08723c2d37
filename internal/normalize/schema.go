package normalize

import "shopetl/models"

// ColumnType is the semantic type of a column
type ColumnType string

const (
	TypeString    ColumnType = "string"
	TypeBool      ColumnType = "boolean"
	TypeInteger   ColumnType = "integer"
	TypeDecimal   ColumnType = "decimal"
	TypeTimestamp ColumnType = "timestamp"
)

type Column struct {
	Name string
	Type ColumnType
}

// TableSchema is the ordered column list of one output table.
// Column order is the order used in canonical files, DDL and inserts.
type TableSchema struct {
	Table   string
	Columns []Column
}

func (s TableSchema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

func (s TableSchema) TypeOf(column string) (ColumnType, bool) {
	for _, c := range s.Columns {
		if c.Name == column {
			return c.Type, true
		}
	}
	return "", false
}

// TypedRow maps column name to nil, string, bool, int64, float64 or time.Time
type TypedRow map[string]any

// Values returns the row in schema column order
func (r TypedRow) Values(s TableSchema) []any {
	out := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = r[c.Name]
	}
	return out
}

func cols(t ColumnType, names ...string) []Column {
	out := make([]Column, len(names))
	for i, n := range names {
		out[i] = Column{Name: n, Type: t}
	}
	return out
}

func concat(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var (
	Orders = TableSchema{
		Table: string(models.ReportOrders),
		Columns: concat(
			cols(TypeString, "plenty_id", "o_id", "o_plenty_id", "o_origin_order_id", "os_id"),
			cols(TypeDecimal, "o_referrer", "o_global_referrer"),
			cols(TypeString, "o_type"),
			cols(TypeBool, "o_is_main_order", "o_is_net", "o_is_b2b"),
			cols(TypeString, "ac_id"),
			cols(TypeInteger, "o_payment_status"),
			cols(TypeString, "o_invoice_postal_code", "o_invoice_town", "o_invoice_country",
				"o_delivery_postal_code", "o_delivery_town", "o_delivery_country"),
			cols(TypeInteger, "o_shipping_profile", "o_parcel_service"),
			cols(TypeString, "smw_id", "smw_country", "smw_postal_code", "o_shipping_provider"),
			cols(TypeTimestamp, "o_entry_at", "o_created_at", "o_goods_issue_at", "o_paid_at", "o_updated_at"),
		),
	}

	OrderItems = TableSchema{
		Table: string(models.ReportOrderItems),
		Columns: concat(
			cols(TypeString, "plenty_id", "oi_id", "o_id", "iv_id", "i_id"),
			cols(TypeDecimal, "oi_quantity"),
			cols(TypeInteger, "oi_type_id"),
			cols(TypeString, "smw_id"),
			cols(TypeTimestamp, "oi_updated_at", "o_created_at", "o_updated_at"),
		),
	}

	OrderItemAmounts = TableSchema{
		Table: string(models.ReportOrderItemAmounts),
		Columns: concat(
			cols(TypeString, "plenty_id", "oia_id", "oi_id"),
			cols(TypeBool, "oia_is_system_currency"),
			cols(TypeDecimal, "oi_price_gross", "oi_price_net"),
			cols(TypeString, "oi_price_currency"),
			cols(TypeDecimal, "oi_exchange_rate", "oi_purchase_price"),
			cols(TypeTimestamp, "oi_updated_at", "o_created_at"),
		),
	}

	Barcodes = TableSchema{
		Table:   "barcodes",
		Columns: cols(TypeString, "variation_id", "wg1", "wg2"),
	}

	Matchcodes = TableSchema{
		Table: "matchcodes",
		Columns: concat(
			cols(TypeString, "variation_id", "variation_number", "variation_name",
				"item_description_name", "variation_default_category_branch_name"),
			cols(TypeInteger, "variation_default_category_manually"),
			cols(TypeString, "variation_bundle_components", "item_manufacturer_name"),
		),
	}

	WG1 = TableSchema{
		Table:   "wg1",
		Columns: cols(TypeString, "code", "beschreibung", "beschreibung_export"),
	}

	WG2 = TableSchema{
		Table:   "wg2",
		Columns: cols(TypeString, "code", "beschreibung", "beschreibung_export", "artikelrabattgruppe"),
	}
)

// All lists every output table
var All = []TableSchema{Orders, OrderItems, OrderItemAmounts, Barcodes, Matchcodes, WG1, WG2}

// ForReport returns the schema of a report type
func ForReport(t models.ReportType) TableSchema {
	switch t {
	case models.ReportOrders:
		return Orders
	case models.ReportOrderItems:
		return OrderItems
	default:
		return OrderItemAmounts
	}
}

func Lookup(table string) (TableSchema, bool) {
	for _, s := range All {
		if s.Table == table {
			return s, true
		}
	}
	return TableSchema{}, false
}
