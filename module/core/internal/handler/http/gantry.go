package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nandanugg/tollgate/module/core/domain"
)

type gantryRegistry interface {
	Swap(gantries []domain.Gantry) error
	Gantries() []domain.Gantry
}

// GantryLoader reads the gantry configuration from its source.
type GantryLoader func() ([]domain.Gantry, error)

type gantryResponse struct {
	GantryID     string  `json:"gantry_id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
	Price        string  `json:"price"`
	Lanes        int     `json:"lanes"`
}

type GantryHandler struct {
	registry gantryRegistry
	load     GantryLoader
}

func NewGantryHandler(registry gantryRegistry, load GantryLoader) *GantryHandler {
	return &GantryHandler{registry: registry, load: load}
}

func (h *GantryHandler) Register(r *gin.RouterGroup) {
	r.GET("/gantries", h.ListGantries)
	r.POST("/gantries/reload", h.Reload)
}

func (h *GantryHandler) ListGantries(c *gin.Context) {
	gantries := h.registry.Gantries()
	results := make([]gantryResponse, len(gantries))
	for i, g := range gantries {
		results[i] = gantryResponse{
			GantryID:     g.ID,
			Latitude:     g.Lat,
			Longitude:    g.Lon,
			RadiusMeters: g.RadiusMeters,
			Price:        g.Price.StringFixed(2),
			Lanes:        g.Lanes,
		}
	}
	c.JSON(http.StatusOK, results)
}

// Reload swaps the live geofence index; on any error the old index keeps serving.
func (h *GantryHandler) Reload(c *gin.Context) {
	gantries, err := h.load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load gantries"})
		return
	}
	if err := h.registry.Swap(gantries); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gantries": len(gantries)})
}
