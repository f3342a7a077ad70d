// Package model defines the domain records shared by the boundary engine,
// the offline store and the sync coordinator.
package model

import (
	"time"
)

// DefaultPointAccuracy is the accuracy (metres) assumed when the capture
// device does not report one.
const DefaultPointAccuracy = 5.0

// BoundaryStatus is the lifecycle state of a boundary mapping session.
type BoundaryStatus string

const (
	BoundaryStatusDraft     BoundaryStatus = "draft"
	BoundaryStatusRecording BoundaryStatus = "recording"
	BoundaryStatusCompleted BoundaryStatus = "completed"
)

// AccuracyLevel is the coarse quality class derived from mean GPS accuracy.
type AccuracyLevel string

const (
	AccuracyExcellent AccuracyLevel = "excellent"
	AccuracyGood      AccuracyLevel = "good"
	AccuracyFair      AccuracyLevel = "fair"
	AccuracyPoor      AccuracyLevel = "poor"
)

// BoundaryPoint is one vertex of a boundary.
// Order is 1-based and dense within its boundary.
type BoundaryPoint struct {
	ID        string    `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
	Order     int       `json:"order"`
}

// BoundaryMapping is a boundary under construction or finalized.
// Area, Perimeter and AccuracyLevel are derived from Points and are
// recomputed on every point mutation.
type BoundaryMapping struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Points        []BoundaryPoint `json:"points"`
	Area          float64         `json:"area"`      // hectares
	Perimeter     float64         `json:"perimeter"` // metres
	Status        BoundaryStatus  `json:"status"`
	AccuracyLevel AccuracyLevel   `json:"accuracy_level"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers can hold a snapshot safely.
func (b *BoundaryMapping) Clone() BoundaryMapping {
	c := *b
	c.Points = append([]BoundaryPoint(nil), b.Points...)
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// SyncStatus tracks reconciliation of an offline record with the remote service.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// Valid reports whether s is a known sync status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusFailed:
		return true
	}
	return false
}

// FarmerRegistration is a farmer onboarded in the field.
type FarmerRegistration struct {
	ID             string     `json:"id"`
	FarmerID       string     `json:"farmerId"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	PhoneNumber    string     `json:"phoneNumber,omitempty"`
	County         string     `json:"county"`
	District       string     `json:"district,omitempty"`
	GPSCoordinates string     `json:"gpsCoordinates,omitempty"`
	FarmSize       float64    `json:"farmSize,omitempty"`
	PrimaryCrop    string     `json:"primaryCrop,omitempty"`
	IsOffline      bool       `json:"isOffline"`
	Timestamp      int64      `json:"timestamp"` // unix millis
	Status         SyncStatus `json:"status"`
}

// LatLng is a bare coordinate pair as stored on a map plot.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// MapPlot is a farm plot captured offline.
type MapPlot struct {
	ID            string        `json:"id"`
	FarmerID      string        `json:"farmerId"`
	BoundaryID    string        `json:"boundaryId,omitempty"`
	Name          string        `json:"name,omitempty"`
	Coordinates   []LatLng      `json:"coordinates"`
	Area          float64       `json:"area"`                // hectares
	Perimeter     float64       `json:"perimeter,omitempty"` // metres
	AccuracyLevel AccuracyLevel `json:"accuracyLevel,omitempty"`
	CropType      string        `json:"cropType"`
	IsOffline     bool          `json:"isOffline"`
	Timestamp     int64         `json:"timestamp"`
	Status        SyncStatus    `json:"status"`
}

// Inspection is a commodity inspection recorded offline.
type Inspection struct {
	ID             string     `json:"id"`
	CommodityID    string     `json:"commodityId"`
	InspectorID    string     `json:"inspectorId"`
	InspectionDate int64      `json:"inspectionDate"`
	Notes          string     `json:"notes"`
	Photos         []string   `json:"photos,omitempty"`
	GPSLocation    string     `json:"gpsLocation,omitempty"`
	IsOffline      bool       `json:"isOffline"`
	Timestamp      int64      `json:"timestamp"`
	Status         SyncStatus `json:"status"`
}

// AuthToken is a credential cached for offline use.
type AuthToken struct {
	Username  string `json:"username"`
	Token     string `json:"token"`
	UserType  string `json:"userType"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"expiresAt"` // unix millis
	IsOffline bool   `json:"isOffline"`
}

// Expired reports whether the token is no longer usable at now.
func (t *AuthToken) Expired(now time.Time) bool {
	return t.ExpiresAt <= now.UnixMilli()
}

// CoordinateSource records how a GPS coordinate was captured.
type CoordinateSource string

const (
	SourceManual   CoordinateSource = "manual"
	SourceAuto     CoordinateSource = "auto"
	SourceMapClick CoordinateSource = "map-click"
)

// GPSCoordinate is an immutable entry in the coordinate log.
type GPSCoordinate struct {
	ID        string           `json:"id"`
	Latitude  float64          `json:"latitude"`
	Longitude float64          `json:"longitude"`
	Accuracy  float64          `json:"accuracy"`
	Altitude  *float64         `json:"altitude,omitempty"`
	Timestamp int64            `json:"timestamp"`
	Source    CoordinateSource `json:"source"`
	IsOffline bool             `json:"isOffline"`
}

// OfflineUserID is the id given to users authenticated without the remote service.
const OfflineUserID = 999

// User is the authenticated user of the device.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	UserType  string `json:"userType"`
	Role      string `json:"role"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	IsOffline bool   `json:"isOffline"`
}
