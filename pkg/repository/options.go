package repository

type OrderType string

const (
	OrderTypeAsc  OrderType = "ASC"
	OrderTypeDesc OrderType = "DESC"
)

type (
	WhereType  map[string]any
	SelectType []string
	Order      map[string]OrderType
)

type FindOptions struct {
	Select SelectType
	Where  WhereType
	Order  Order
	Limit  uint
	Offset uint
}
