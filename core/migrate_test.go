package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareKeys(t *testing.T) {
	fs := map[string]bool{"a": true, "b": true, "c": true}
	store := map[string]bool{"b": true, "c": true, "d": true}

	cmp := compareKeys(fs, store)
	assert.Equal(t, []string{"a"}, cmp.OnlyInFilesystem)
	assert.Equal(t, []string{"d"}, cmp.OnlyInStore)
	assert.Equal(t, []string{"b", "c"}, cmp.InBoth)
}

func TestSyncStrategy_Valid(t *testing.T) {
	for _, s := range []SyncStrategy{SyncFSToStore, SyncStoreToFS, SyncFSWins, SyncStoreWins, SyncManualReview} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, SyncStrategy("OVERWRITE").Valid())
	assert.False(t, SyncStrategy("").Valid())
}

func TestActionFor_FSToStore(t *testing.T) {
	assert.Equal(t, ActionCopyFSToStore, actionFor(SyncFSToStore, bucketOnlyFS))
	assert.Equal(t, ActionCopyFSToStore, actionFor(SyncFSToStore, bucketBoth))
	assert.Equal(t, ActionDeleteFromStore, actionFor(SyncFSToStore, bucketOnlyStore))
}

func TestActionFor_StoreToFS(t *testing.T) {
	assert.Equal(t, ActionCopyStoreToFS, actionFor(SyncStoreToFS, bucketOnlyStore))
	assert.Equal(t, ActionCopyStoreToFS, actionFor(SyncStoreToFS, bucketBoth))
	assert.Equal(t, ActionManualReview, actionFor(SyncStoreToFS, bucketOnlyFS))
}

func TestActionFor_AdditiveStrategies(t *testing.T) {
	// FS_WINS: filesystem wins conflicts, store extras survive
	assert.Equal(t, ActionCopyFSToStore, actionFor(SyncFSWins, bucketOnlyFS))
	assert.Equal(t, ActionCopyFSToStore, actionFor(SyncFSWins, bucketBoth))
	assert.Equal(t, ActionNone, actionFor(SyncFSWins, bucketOnlyStore))

	// STORE_WINS: store wins conflicts, fs-only still copied in
	assert.Equal(t, ActionCopyFSToStore, actionFor(SyncStoreWins, bucketOnlyFS))
	assert.Equal(t, ActionNone, actionFor(SyncStoreWins, bucketBoth))
	assert.Equal(t, ActionNone, actionFor(SyncStoreWins, bucketOnlyStore))
}

func TestActionFor_ManualReview(t *testing.T) {
	for _, b := range []syncBucket{bucketOnlyFS, bucketOnlyStore, bucketBoth} {
		assert.Equal(t, ActionManualReview, actionFor(SyncManualReview, b))
	}
}
