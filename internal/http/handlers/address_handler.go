// Address HTTP handlers.
//
// Every address belongs to the caller. The service keeps exactly one default
// per user with at least one address; these handlers only translate.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/services"
)

//
// DTOs
//

// CreateAddressRequest is the payload of POST /addresses.
type CreateAddressRequest struct {
	Street       string   `json:"street"       binding:"required" example:"Rua das Flores"`
	Number       string   `json:"number"       binding:"required" example:"120"`
	Complement   string   `json:"complement"                      example:"apto 31"`
	Neighborhood string   `json:"neighborhood" binding:"required" example:"Centro"`
	City         string   `json:"city"         binding:"required" example:"Curitiba"`
	State        string   `json:"state"        binding:"required" example:"PR"`
	ZipCode      string   `json:"zip_code"     binding:"required" example:"80010-000"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	IsDefault    bool     `json:"is_default"`
}

// UpdateAddressRequest is a partial update; absent fields are kept.
type UpdateAddressRequest struct {
	Street       *string  `json:"street,omitempty"`
	Number       *string  `json:"number,omitempty"`
	Complement   *string  `json:"complement,omitempty"`
	Neighborhood *string  `json:"neighborhood,omitempty"`
	City         *string  `json:"city,omitempty"`
	State        *string  `json:"state,omitempty"`
	ZipCode      *string  `json:"zip_code,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	IsDefault    *bool    `json:"is_default,omitempty"`
}

//
// Handlers
//

// ListAddresses godoc
// @ID          listAddresses
// @Summary     List my addresses
// @Tags        Addresses
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   domain.Address
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /addresses [get]
func (h *Handlers) ListAddresses(c *gin.Context) {
	items, err := h.addresses.List(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Address{}
	}
	ok(c, http.StatusOK, items)
}

// GetAddress godoc
// @ID          getAddress
// @Summary     Get an address
// @Tags        Addresses
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Address ID"  format(uuid)
// @Success     200  {object}  domain.Address
// @Failure     403  {object}  handlers.ErrorResponse  "Address belongs to another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Address not found"
// @Router      /addresses/{id} [get]
func (h *Handlers) GetAddress(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	a, err := h.addresses.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// CreateAddress godoc
// @ID          createAddress
// @Summary     Add an address
// @Description The first address of a user is always the default. Later ones
// @Description become the default only when is_default is true.
// @Tags        Addresses
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body  body      handlers.CreateAddressRequest  true  "Address"
// @Success     201   {object}  domain.Address
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Router      /addresses [post]
func (h *Handlers) CreateAddress(c *gin.Context) {
	var req CreateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "street, number, neighborhood, city, state and zip_code are required")
		return
	}
	a, err := h.addresses.Create(c.Request.Context(), userID(c), services.AddressInput{
		Street:       req.Street,
		Number:       req.Number,
		Complement:   req.Complement,
		Neighborhood: req.Neighborhood,
		City:         req.City,
		State:        req.State,
		ZipCode:      req.ZipCode,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		IsDefault:    req.IsDefault,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, a)
}

// UpdateAddress godoc
// @ID          updateAddress
// @Summary     Update an address
// @Tags        Addresses
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                          true  "Address ID"  format(uuid)
// @Param       body  body      handlers.UpdateAddressRequest  true  "Fields to change"
// @Success     200   {object}  domain.Address
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403   {object}  handlers.ErrorResponse  "Address belongs to another user"
// @Failure     404   {object}  handlers.ErrorResponse  "Address not found"
// @Router      /addresses/{id} [patch]
func (h *Handlers) UpdateAddress(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	var req UpdateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	a, err := h.addresses.Update(c.Request.Context(), userID(c), id, services.AddressPatch{
		Street:       req.Street,
		Number:       req.Number,
		Complement:   req.Complement,
		Neighborhood: req.Neighborhood,
		City:         req.City,
		State:        req.State,
		ZipCode:      req.ZipCode,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		IsDefault:    req.IsDefault,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// SetDefaultAddress godoc
// @ID          setDefaultAddress
// @Summary     Make an address the default
// @Tags        Addresses
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Address ID"  format(uuid)
// @Success     200  {object}  domain.Address
// @Failure     403  {object}  handlers.ErrorResponse  "Address belongs to another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Address not found"
// @Router      /addresses/{id}/default [patch]
func (h *Handlers) SetDefaultAddress(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	a, err := h.addresses.SetDefault(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// DeleteAddress godoc
// @ID          deleteAddress
// @Summary     Delete an address
// @Description Deleting the default promotes the most recently created
// @Description remaining address.
// @Tags        Addresses
// @Security    BearerAuth
// @Param       id  path  string  true  "Address ID"  format(uuid)
// @Success     204
// @Failure     403  {object}  handlers.ErrorResponse  "Address belongs to another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Address not found"
// @Router      /addresses/{id} [delete]
func (h *Handlers) DeleteAddress(c *gin.Context) {
	id, valid := pathUUID(c, "id")
	if !valid {
		return
	}
	if err := h.addresses.Delete(c.Request.Context(), userID(c), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
