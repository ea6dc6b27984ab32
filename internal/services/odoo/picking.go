package odoo

import (
	"context"
	"errors"
	"fmt"

	"github.com/xelth-com/odoostore/internal/models"
	"go.uber.org/zap"
)

// PickingRequest describes a single-product internal transfer
type PickingRequest struct {
	ProductID        int64
	SourceLocationID int64
	DestLocationID   int64
	Quantity         float64
	UomID            int64 // resolved from the product when zero
	PickingTypeID    int64 // first internal picking type when zero
	Origin           string
}

// validateContext suppresses the backorder and immediate-transfer wizards
var validateContext = map[string]interface{}{
	"skip_backorder":   true,
	"skip_immediate":   true,
	"skip_sms":         true,
	"cancel_backorder": true,
}

// CreateAndValidatePicking creates a draft transfer with one move, confirms
// it, sets the done quantity and validates it. The picking must end in state
// done; any failed step aborts the workflow with the step named in the error.
func (c *Client) CreateAndValidatePicking(ctx context.Context, req PickingRequest) (int64, error) {
	if req.ProductID <= 0 {
		return 0, errors.New("picking: product id is required")
	}
	if req.SourceLocationID <= 0 || req.DestLocationID <= 0 {
		return 0, errors.New("picking: source and destination locations are required")
	}
	if req.Quantity <= 0 {
		return 0, fmt.Errorf("picking: quantity must be positive, got %v", req.Quantity)
	}

	uomID := req.UomID
	if uomID == 0 {
		var rows []struct {
			UomID models.Many2One `json:"uom_id"`
		}
		if err := c.Read(ctx, "product.product", []int64{req.ProductID}, []string{"uom_id"}, &rows); err != nil {
			return 0, fmt.Errorf("picking: resolve unit of measure: %w", err)
		}
		if len(rows) == 0 || !rows[0].UomID.Valid() {
			return 0, fmt.Errorf("picking: product %d not found or has no unit of measure", req.ProductID)
		}
		uomID = rows[0].UomID.ID
	}

	pickingTypeID := req.PickingTypeID
	if pickingTypeID == 0 {
		var types []struct {
			ID int64 `json:"id"`
		}
		err := c.SearchRead(ctx, "stock.picking.type",
			Domain{Cond("code", "=", "internal")},
			SearchOptions{Fields: []string{"id"}, Limit: 1, Order: "id"}, &types)
		if err != nil {
			return 0, fmt.Errorf("picking: resolve picking type: %w", err)
		}
		if len(types) == 0 {
			return 0, errors.New("picking: no internal picking type configured")
		}
		pickingTypeID = types[0].ID
	}

	origin := req.Origin
	if origin == "" {
		origin = "odoostore"
	}

	pickingID, err := c.Create(ctx, "stock.picking", map[string]interface{}{
		"picking_type_id":  pickingTypeID,
		"location_id":      req.SourceLocationID,
		"location_dest_id": req.DestLocationID,
		"origin":           origin,
		"move_ids": []interface{}{
			[]interface{}{0, 0, map[string]interface{}{
				"name":             origin,
				"product_id":       req.ProductID,
				"product_uom":      uomID,
				"product_uom_qty":  req.Quantity,
				"location_id":      req.SourceLocationID,
				"location_dest_id": req.DestLocationID,
			}},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("picking: create: %w", err)
	}
	log := c.log.With(zap.Int64("picking_id", pickingID), zap.Int64("product_id", req.ProductID))

	if err := c.Call(ctx, "stock.picking", "action_confirm", []interface{}{[]int64{pickingID}}, nil, nil); err != nil {
		return pickingID, fmt.Errorf("picking %d: confirm: %w", pickingID, err)
	}

	var moves []struct {
		ID int64 `json:"id"`
	}
	err = c.SearchRead(ctx, "stock.move",
		Domain{Cond("picking_id", "=", pickingID)},
		SearchOptions{Fields: []string{"id"}}, &moves)
	if err != nil {
		return pickingID, fmt.Errorf("picking %d: load moves: %w", pickingID, err)
	}
	if len(moves) == 0 {
		return pickingID, fmt.Errorf("picking %d: no stock moves after confirm", pickingID)
	}
	moveIDs := make([]int64, len(moves))
	for i, m := range moves {
		moveIDs[i] = m.ID
	}
	if err := c.Write(ctx, "stock.move", moveIDs, map[string]interface{}{"quantity": req.Quantity}); err != nil {
		return pickingID, fmt.Errorf("picking %d: set quantity: %w", pickingID, err)
	}

	err = c.Call(ctx, "stock.picking", "button_validate", []interface{}{[]int64{pickingID}},
		map[string]interface{}{"context": validateContext}, nil)
	if err != nil {
		return pickingID, fmt.Errorf("picking %d: validate: %w", pickingID, err)
	}

	var states []struct {
		State models.OdooString `json:"state"`
	}
	if err := c.Read(ctx, "stock.picking", []int64{pickingID}, []string{"state"}, &states); err != nil {
		return pickingID, fmt.Errorf("picking %d: read state: %w", pickingID, err)
	}
	if len(states) == 0 || states[0].State.String() != "done" {
		state := ""
		if len(states) > 0 {
			state = states[0].State.String()
		}
		return pickingID, fmt.Errorf("picking %d: ended in state %q, expected done", pickingID, state)
	}

	log.Info("picking validated", zap.Float64("quantity", req.Quantity))
	return pickingID, nil
}

// AdjustQuant changes the on-hand quantity of a product at a location by
// delta through the inventory adjustment flow and returns the quant id.
func (c *Client) AdjustQuant(ctx context.Context, productID, locationID int64, delta float64) (int64, error) {
	if productID <= 0 || locationID <= 0 {
		return 0, errors.New("quant: product and location are required")
	}

	var quants []struct {
		ID       int64   `json:"id"`
		Quantity float64 `json:"quantity"`
	}
	err := c.SearchRead(ctx, "stock.quant",
		Domain{Cond("product_id", "=", productID), Cond("location_id", "=", locationID)},
		SearchOptions{Fields: []string{"id", "quantity"}, Limit: 1}, &quants)
	if err != nil {
		return 0, fmt.Errorf("quant: search: %w", err)
	}

	inventoryMode := map[string]interface{}{"context": map[string]interface{}{"inventory_mode": true}}

	var quantID int64
	if len(quants) == 0 {
		var raw interface{}
		err := c.Call(ctx, "stock.quant", "create", []interface{}{map[string]interface{}{
			"product_id":         productID,
			"location_id":        locationID,
			"inventory_quantity": delta,
		}}, inventoryMode, &raw)
		if err != nil {
			return 0, fmt.Errorf("quant: create: %w", err)
		}
		if list, ok := raw.([]interface{}); ok && len(list) > 0 {
			raw = list[0]
		}
		id, ok := toInt64(raw)
		if !ok || id <= 0 {
			return 0, fmt.Errorf("quant: create: unexpected result %v", raw)
		}
		quantID = id
	} else {
		quantID = quants[0].ID
		target := quants[0].Quantity + delta
		if err := c.Write(ctx, "stock.quant", []int64{quantID}, map[string]interface{}{"inventory_quantity": target}); err != nil {
			return quantID, fmt.Errorf("quant %d: set inventory quantity: %w", quantID, err)
		}
	}

	if err := c.Call(ctx, "stock.quant", "action_apply_inventory", []interface{}{[]int64{quantID}}, nil, nil); err != nil {
		return quantID, fmt.Errorf("quant %d: apply inventory: %w", quantID, err)
	}
	return quantID, nil
}
