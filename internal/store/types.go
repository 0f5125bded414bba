package store

import (
	"time"

	"github.com/cwbudde/estikit/internal/bootstrap"
)

// Record is a persisted bootstrap result together with the inputs needed to
// extend it later: the data file it was computed from, the outcome name and
// the cluster column. The seeds already spent live inside the result itself,
// so an extension knows which seeds to avoid reusing.
type Record struct {
	// ID is the unique identifier of this stored result.
	ID string `json:"id"`

	// DataPath points to the dataset the outcomes were computed from.
	DataPath string `json:"dataPath,omitempty"`

	// OutcomeName identifies the outcome function, e.g. "column-means".
	OutcomeName string `json:"outcomeName,omitempty"`

	// ClusterBy is the cluster column used for resampling, if any.
	ClusterBy string `json:"clusterBy,omitempty"`

	// CreatedAt records the first generation, UpdatedAt the last extension.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Result holds the outcomes, the point estimate and the seed segments.
	Result *bootstrap.Result `json:"result"`
}

// Info contains record metadata without the outcome payload. Used for
// listing results without loading large draw matrices.
type Info struct {
	ID          string    `json:"id"`
	DataPath    string    `json:"dataPath,omitempty"`
	OutcomeName string    `json:"outcomeName,omitempty"`
	ClusterBy   string    `json:"clusterBy,omitempty"`
	Draws       int       `json:"draws"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ToInfo extracts listing metadata from a record.
func (r *Record) ToInfo() Info {
	info := Info{
		ID:          r.ID,
		DataPath:    r.DataPath,
		OutcomeName: r.OutcomeName,
		ClusterBy:   r.ClusterBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Result != nil {
		info.Draws = r.Result.NumDraws()
	}
	return info
}
