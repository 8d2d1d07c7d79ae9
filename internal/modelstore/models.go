// Package modelstore persists and reloads trained ensembles through GORM,
// keyed by RunID so one database can hold many training runs.
package modelstore

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONField stores arbitrary structured payloads (split thresholds,
// category sets, node arrays) as a JSON column.
type JSONField []byte

// Value implements driver.Valuer.
func (j JSONField) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	case string:
		*j = JSONField(v)
		return nil
	default:
		return errors.New("modelstore: unsupported JSONField source type")
	}
}

// MarshalTo decodes the JSON field into dst.
func (j JSONField) MarshalTo(dst interface{}) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, dst)
}

// ToJSONField encodes v as a JSONField.
func ToJSONField(v interface{}) (JSONField, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONField(b), nil
}

// DiscretizerColumnRow is the *discretizer* logical table: one row per
// fitted column, carrying its kind, thresholds/categories, and bin count.
type DiscretizerColumnRow struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string    `gorm:"column:run_id;type:varchar(64);index"`
	ColumnID   int       `gorm:"column:column_id"`
	Kind       string    `gorm:"column:kind;type:varchar(32)"` // numeric_quantile | numeric_width | categorical | rank
	Thresholds JSONField `gorm:"column:thresholds;type:json"`  // column payload: thresholds, category codes, catch-all code, zero-as-missing flag
	NumBins    int       `gorm:"column:num_bins"`
	Sparsity   float64   `gorm:"column:sparsity"`
	CreateTime time.Time `gorm:"column:create_time;autoCreateTime"`
}

// TableName returns the table name for DiscretizerColumnRow.
func (DiscretizerColumnRow) TableName() string {
	return "discretizer_columns"
}

// TreeWeightRow is the *weights* logical table: one row per tree index.
type TreeWeightRow struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string  `gorm:"column:run_id;type:varchar(64);index"`
	TreeIndex int     `gorm:"column:tree_index"`
	Weight    float64 `gorm:"column:weight"`
}

// TableName returns the table name for TreeWeightRow.
func (TreeWeightRow) TableName() string {
	return "tree_weights"
}

// TreeNodeRow is the *trees* logical table: one row per node, addressed by
// level-order id within its tree so node arrays round-trip exactly.
type TreeNodeRow struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID        string    `gorm:"column:run_id;type:varchar(64);index"`
	TreeIndex    int       `gorm:"column:tree_index;index:idx_tree"`
	NodeID       int       `gorm:"column:node_id"`
	IsLeaf       bool      `gorm:"column:is_leaf"`
	FeatureID    int       `gorm:"column:feature_id"`
	SplitKind    string    `gorm:"column:split_kind;type:varchar(16)"` // numeric | categorical
	SplitPayload JSONField `gorm:"column:split_payload;type:json"`
	Gain         float64   `gorm:"column:gain"`
	LeftID       int       `gorm:"column:left_id"`
	RightID      int       `gorm:"column:right_id"`
	DefaultDir   string    `gorm:"column:default_dir;type:varchar(8)"` // left | right
	LeafValue    float64   `gorm:"column:leaf_value"`
}

// TableName returns the table name for TreeNodeRow.
func (TreeNodeRow) TableName() string {
	return "tree_nodes"
}

// ExtraKVRow is the *extra* logical table: free-form (key, value) pairs,
// including the persisted baseScore vector.
type ExtraKVRow struct {
	ID    int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID string `gorm:"column:run_id;type:varchar(64);index;uniqueIndex:idx_extra_kv_run_key"`
	Key   string `gorm:"column:key;type:varchar(128);uniqueIndex:idx_extra_kv_run_key"`
	Value string `gorm:"column:value;type:text"`
}

// TableName returns the table name for ExtraKVRow.
func (ExtraKVRow) TableName() string {
	return "extra_kv"
}
