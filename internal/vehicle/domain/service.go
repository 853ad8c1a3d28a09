package domain

import (
	"context"
	"errors"
)

type CreateVehicleRequest struct {
	CustomerName string  `json:"customer_name"`
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	Year         int     `json:"year"`
	VIN          *string `json:"vin,omitempty"`
	LicensePlate *string `json:"license_plate,omitempty"`
}

type ListVehicleResponse struct {
	Vehicles []Vehicle `json:"vehicles"`
}

type Service interface {
	Create(ctx context.Context, req CreateVehicleRequest) (Vehicle, error)
	List(ctx context.Context) (ListVehicleResponse, error)
	GetByID(ctx context.Context, id string) (Vehicle, error)
	// Exists validates that a vehicle belongs to the context organization
	// before an agreement or invoice targets it.
	Exists(ctx context.Context, id string) (bool, error)
}

var (
	ErrNotFound            = errors.New("vehicle_not_found")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCustomerName = errors.New("invalid_customer_name")
	ErrInvalidVehicle      = errors.New("invalid_vehicle")
)
