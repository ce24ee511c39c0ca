package config

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/marketsync_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SellerGuardPlugin enforces multi-tenant isolation by automatically scoping
// queries/updates/deletes to the request's seller_id when the model has a seller_id column.
//
// NOTE:
// - This does NOT apply to Raw SQL queries. Those must include seller_id manually.
// - Admin/internal bypass is explicit via context flags.
type SellerGuardPlugin struct{}

func NewSellerGuardPlugin() *SellerGuardPlugin { return &SellerGuardPlugin{} }

func (p *SellerGuardPlugin) Name() string { return "seller_guard" }

func (p *SellerGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("seller_guard:query", sellerGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("seller_guard:row", sellerGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("seller_guard:update", sellerGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("seller_guard:delete", sellerGuardCallback); err != nil {
		return err
	}
	return nil
}

func sellerGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if shouldBypassSellerScope(ctx) {
		return
	}
	sellerID := sellerIdFromContext(ctx)
	if sellerID == "" {
		return
	}

	// Only apply if the current model/table includes a seller_id column.
	if db.Statement.Schema == nil {
		return
	}
	hasSellerID := false
	for _, f := range db.Statement.Schema.Fields {
		if strings.EqualFold(f.DBName, "seller_id") {
			hasSellerID = true
			break
		}
	}
	if !hasSellerID {
		return
	}

	// Don't duplicate an explicit tenant filter.
	if whereHasSellerID(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "seller_id"},
				Value:  sellerID,
			},
		},
	})
}

func sellerIdFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(appctx.ContextKeySellerId).(string); ok && v != "" {
		return v
	}
	return ""
}

func shouldBypassSellerScope(ctx context.Context) bool {
	v, ok := appctx.GetBool(ctx, appctx.ContextKeyIsAdmin)
	return ok && v
}

func whereHasSellerID(c clause.Clause) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasSellerID(e) {
			return true
		}
	}
	return false
}

func exprHasSellerID(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsSellerID(v.Column)
	case clause.Neq:
		return colIsSellerID(v.Column)
	case clause.IN:
		return colIsSellerID(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasSellerID(x) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasSellerID(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), "seller_id")
	default:
		return false
	}
}

func colIsSellerID(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "seller_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "seller_id")
	default:
		return false
	}
}
