package coordinator

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid"

	"github.com/agritrace/fieldmap/internal/geo"
	"github.com/agritrace/fieldmap/internal/model"
)

// SaveFarmPlot records a plot outlined by coords. Area and perimeter are
// derived from the outline; the plot is stored pending whatever the
// connectivity.
func (c *Coordinator) SaveFarmPlot(ctx context.Context, farmerID string, coords []model.LatLng, cropType string) (*model.MapPlot, error) {
	if farmerID == "" {
		return nil, fmt.Errorf("%w: farmer id is required", ErrInvalidPlot)
	}
	for i, p := range coords {
		if !geo.IsValidCoordinate(p.Lat, p.Lng) {
			return nil, fmt.Errorf("%w: coordinate %d (%v, %v) is out of range", ErrInvalidPlot, i+1, p.Lat, p.Lng)
		}
	}

	m := geo.ComputeMetrics(geo.PointsFromLatLng(coords, model.DefaultPointAccuracy))
	return c.store.MapPlots.Create(ctx, model.MapPlot{
		FarmerID:    farmerID,
		Coordinates: append([]model.LatLng(nil), coords...),
		Area:        m.Area,
		Perimeter:   m.Perimeter,
		CropType:    cropType,
	})
}

// SaveBoundary records a completed boundary mapping as a plot of farmerID.
func (c *Coordinator) SaveBoundary(ctx context.Context, farmerID string, b model.BoundaryMapping, cropType string) (*model.MapPlot, error) {
	if b.Status != model.BoundaryStatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrBoundaryIncomplete, b.ID, b.Status)
	}
	if farmerID == "" {
		return nil, fmt.Errorf("%w: farmer id is required", ErrInvalidPlot)
	}

	coords := make([]model.LatLng, len(b.Points))
	for i, p := range b.Points {
		coords[i] = model.LatLng{Lat: p.Latitude, Lng: p.Longitude}
	}

	return c.store.MapPlots.Create(ctx, model.MapPlot{
		FarmerID:      farmerID,
		BoundaryID:    b.ID,
		Name:          b.Name,
		Coordinates:   coords,
		Area:          b.Area,
		Perimeter:     b.Perimeter,
		AccuracyLevel: b.AccuracyLevel,
		CropType:      cropType,
	})
}

// GetFarmPlots lists the plots of farmerID, or every plot when farmerID is empty.
func (c *Coordinator) GetFarmPlots(ctx context.Context, farmerID string) ([]*model.MapPlot, error) {
	if farmerID == "" {
		return c.store.MapPlots.GetAll(ctx)
	}
	return c.store.MapPlots.GetByIndex(ctx, "farmerId", farmerID)
}

const farmerIDAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// generateFarmerID returns a field-issued farmer number such as FRM-7K2Q9XAB.
func generateFarmerID() (string, error) {
	suffix, err := gonanoid.Generate(farmerIDAlphabet, 8)
	if err != nil {
		return "", fmt.Errorf("failed to generate farmer id: %w", err)
	}
	return "FRM-" + suffix, nil
}

// SaveFarmerRegistration records a farmer onboarded on this device.
func (c *Coordinator) SaveFarmerRegistration(ctx context.Context, f model.FarmerRegistration) (*model.FarmerRegistration, error) {
	if f.FirstName == "" || f.LastName == "" {
		return nil, fmt.Errorf("farmer first and last name are required")
	}
	if f.FarmerID == "" {
		id, err := generateFarmerID()
		if err != nil {
			return nil, err
		}
		f.FarmerID = id
	}
	return c.store.Farmers.Create(ctx, f)
}

// SaveInspection records an inspection made on this device.
func (c *Coordinator) SaveInspection(ctx context.Context, in model.Inspection) (*model.Inspection, error) {
	if in.CommodityID == "" {
		return nil, fmt.Errorf("commodity id is required")
	}
	if in.InspectorID == "" {
		if u := c.CurrentUser(); u != nil {
			in.InspectorID = u.Username
		}
	}
	if in.InspectionDate == 0 {
		in.InspectionDate = c.now().UnixMilli()
	}
	return c.store.Inspections.Create(ctx, in)
}
