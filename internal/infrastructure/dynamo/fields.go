package dynamo

// Attribute names of the merges table, shared by bootstrap and the repo.
const (
	fieldMergeID   = "merge_id"
	fieldSource    = "source"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
	fieldObjectKey = "object_key"

	sourceCreatedIndex = "source-created_at-index"
)
