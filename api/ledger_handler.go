package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xraph/forge"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/ledger"
)

var errSheetIndex = errors.New("sheet index must be an integer")

// SheetStatusRequest is the body of the sheet status endpoints.
type SheetStatusRequest struct {
	Status string `json:"status"`
}

// AddRecutRequest is the body of POST /v1/materials/:materialId/recuts.
type AddRecutRequest struct {
	Quantity int `json:"quantity"`
}

func (a *API) setSheetStatus(ctx forge.Context) error {
	materialID, err := id.ParseMaterialID(ctx.Param("materialId"))
	if err != nil {
		return badRequest(ctx, "invalid material ID: "+err.Error())
	}
	index, status, err := sheetParams(ctx)
	if err != nil {
		return badRequest(ctx, err.Error())
	}
	m, err := a.eng.SetSheetStatus(ctx.Context(), materialID, index, status)
	if err != nil {
		return a.fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, m)
}

func (a *API) addRecut(ctx forge.Context) error {
	materialID, err := id.ParseMaterialID(ctx.Param("materialId"))
	if err != nil {
		return badRequest(ctx, "invalid material ID: "+err.Error())
	}
	var req AddRecutRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "invalid request body: "+err.Error())
	}
	entry, err := a.eng.AddRecut(ctx.Context(), materialID, req.Quantity)
	if err != nil {
		return a.fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, entry)
}

func (a *API) setRecutSheetStatus(ctx forge.Context) error {
	recutID, err := id.ParseRecutID(ctx.Param("recutId"))
	if err != nil {
		return badRequest(ctx, "invalid recut ID: "+err.Error())
	}
	index, status, err := sheetParams(ctx)
	if err != nil {
		return badRequest(ctx, err.Error())
	}
	entry, err := a.eng.SetRecutSheetStatus(ctx.Context(), recutID, index, status)
	if err != nil {
		return a.fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, entry)
}

// sheetParams reads the sheet index from the path and the status from the
// body.
func sheetParams(ctx forge.Context) (int, ledger.SheetStatus, error) {
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil {
		return 0, "", errSheetIndex
	}
	var req SheetStatusRequest
	if err := ctx.Bind(&req); err != nil {
		return 0, "", fmt.Errorf("invalid request body: %w", err)
	}
	status, err := ledger.ParseSheetStatus(req.Status)
	if err != nil {
		return 0, "", err
	}
	return index, status, nil
}
