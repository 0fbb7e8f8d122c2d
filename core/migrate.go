package core

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SyncStrategy selects how bidirectional sync resolves the comparison
// buckets.
type SyncStrategy string

const (
	SyncFSToStore    SyncStrategy = "FS_TO_STORE"
	SyncStoreToFS    SyncStrategy = "STORE_TO_FS"
	SyncFSWins       SyncStrategy = "FS_WINS"
	SyncStoreWins    SyncStrategy = "STORE_WINS"
	SyncManualReview SyncStrategy = "MANUAL_REVIEW"
)

// Valid reports whether the strategy is one of the five supported ones.
func (s SyncStrategy) Valid() bool {
	switch s {
	case SyncFSToStore, SyncStoreToFS, SyncFSWins, SyncStoreWins, SyncManualReview:
		return true
	}
	return false
}

// SyncAction is what the strategy decided for one descriptor.
type SyncAction string

const (
	ActionCopyFSToStore   SyncAction = "COPY_FS_TO_STORE"
	ActionCopyStoreToFS   SyncAction = "COPY_STORE_TO_FS"
	ActionDeleteFromStore SyncAction = "DELETE_FROM_STORE"
	ActionManualReview    SyncAction = "MANUAL_REVIEW"
	ActionNone            SyncAction = "NONE"
)

// KindMigration reports the outcome of migrating one descriptor kind.
type KindMigration struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// MigrationReport reports a full filesystem-to-store migration.
type MigrationReport struct {
	Databases KindMigration `json:"databases"`
	Queries   KindMigration `json:"queries"`
	Endpoints KindMigration `json:"endpoints"`
}

// KindComparison buckets descriptor names by where they live.
type KindComparison struct {
	OnlyInFilesystem []string `json:"onlyInFilesystem"`
	OnlyInStore      []string `json:"onlyInStore"`
	InBoth           []string `json:"inBoth"`
}

// ComparisonReport compares the filesystem and store sources per kind.
type ComparisonReport struct {
	Databases KindComparison `json:"databases"`
	Queries   KindComparison `json:"queries"`
	Endpoints KindComparison `json:"endpoints"`
}

// ConfigExport holds the canonical serialized form of the store contents.
type ConfigExport struct {
	Databases string `json:"databases"`
	Queries   string `json:"queries"`
	Endpoints string `json:"endpoints"`
}

// SyncItem is one executed (or deferred) sync decision.
type SyncItem struct {
	Kind   Kind       `json:"kind"`
	Name   string     `json:"name"`
	Action SyncAction `json:"action"`
	Detail string     `json:"detail,omitempty"`
}

// SyncReport aggregates a bidirectional sync run.
type SyncReport struct {
	Strategy          SyncStrategy `json:"strategy"`
	Successful        int          `json:"successful"`
	Failed            int          `json:"failed"`
	ManualReviewItems []SyncItem   `json:"manualReviewItems,omitempty"`
	Errors            []string     `json:"errors,omitempty"`
	Items             []SyncItem   `json:"items"`
}

// Migrator moves configuration between the filesystem source and the
// store. Filesystem rewrites are declared unsupported: the store-to-fs
// copy action only reports what it would do.
type Migrator struct {
	fs    Loader
	store *Store
	bus   *EventBus
	log   *zap.SugaredLogger
}

// NewMigrator creates a migrator between the given sources.
func NewMigrator(fs Loader, store *Store, bus *EventBus, log *zap.SugaredLogger) *Migrator {
	return &Migrator{fs: fs, store: store, bus: bus, log: log}
}

// MigrateFSToStore loads every descriptor from the filesystem and writes
// it through to the store.
func (m *Migrator) MigrateFSToStore(ctx context.Context) (MigrationReport, error) {
	var rep MigrationReport

	dbs, err := m.fs.LoadDatabases()
	if err != nil {
		return rep, fmt.Errorf("loading filesystem databases: %w", err)
	}
	queries, err := m.fs.LoadQueries()
	if err != nil {
		return rep, fmt.Errorf("loading filesystem queries: %w", err)
	}
	endpoints, err := m.fs.LoadEndpoints()
	if err != nil {
		return rep, fmt.Errorf("loading filesystem endpoints: %w", err)
	}

	for _, name := range sortedKeys(dbs) {
		m.applyUpsert(&rep.Databases, name, func() (UpsertAction, error) {
			return m.store.UpsertDatabase(ctx, dbs[name])
		})
	}
	for _, name := range sortedKeys(queries) {
		m.applyUpsert(&rep.Queries, name, func() (UpsertAction, error) {
			return m.store.UpsertQuery(ctx, queries[name])
		})
	}
	for _, name := range sortedKeys(endpoints) {
		m.applyUpsert(&rep.Endpoints, name, func() (UpsertAction, error) {
			return m.store.UpsertEndpoint(ctx, endpoints[name])
		})
	}

	m.bus.PublishSync(NewEvent(EventConfigChanged, "migration", map[string]interface{}{
		"operation": "fs-to-store",
	}))
	m.log.Infow("filesystem-to-store migration complete",
		"databases", len(dbs), "queries", len(queries), "endpoints", len(endpoints))
	return rep, nil
}

// applyUpsert runs one write and folds the outcome into the kind report.
func (m *Migrator) applyUpsert(rep *KindMigration, name string, write func() (UpsertAction, error)) {
	action, err := write()
	if err != nil {
		rep.Failed++
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %s", name, err))
		return
	}
	if action == ActionCreated {
		rep.Created++
	} else {
		rep.Updated++
	}
}

// ExportStore serializes the store contents back to the canonical
// mapping-document form, one document string per kind.
func (m *Migrator) ExportStore() (ConfigExport, error) {
	var out ConfigExport

	dbs, err := m.store.LoadDatabases()
	if err != nil && !IsConfigError(err, ErrEmpty) {
		return out, err
	}
	queries, err := m.store.LoadQueries()
	if err != nil {
		return out, err
	}
	endpoints, err := m.store.LoadEndpoints()
	if err != nil {
		return out, err
	}

	if out.Databases, err = marshalDoc("databases", dbs); err != nil {
		return out, err
	}
	if out.Queries, err = marshalDoc("queries", queries); err != nil {
		return out, err
	}
	if out.Endpoints, err = marshalDoc("endpoints", endpoints); err != nil {
		return out, err
	}
	return out, nil
}

// marshalDoc renders one kind as its mapping-document.
func marshalDoc[V any](key string, m map[string]V) (string, error) {
	b, err := yaml.Marshal(map[string]map[string]V{key: m})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare buckets descriptor names per kind by source.
func (m *Migrator) Compare() (ComparisonReport, error) {
	var rep ComparisonReport

	fsDBs, err := m.fs.LoadDatabases()
	if err != nil {
		return rep, err
	}
	fsQueries, err := m.fs.LoadQueries()
	if err != nil {
		return rep, err
	}
	fsEndpoints, err := m.fs.LoadEndpoints()
	if err != nil {
		return rep, err
	}

	storeDBs, err := m.store.LoadDatabases()
	if err != nil && !IsConfigError(err, ErrEmpty) {
		return rep, err
	}
	storeQueries, err := m.store.LoadQueries()
	if err != nil {
		return rep, err
	}
	storeEndpoints, err := m.store.LoadEndpoints()
	if err != nil {
		return rep, err
	}

	rep.Databases = compareKeys(keysOf(fsDBs), keysOf(storeDBs))
	rep.Queries = compareKeys(keysOf(fsQueries), keysOf(storeQueries))
	rep.Endpoints = compareKeys(keysOf(fsEndpoints), keysOf(storeEndpoints))
	return rep, nil
}

// keysOf collects map keys into a set.
func keysOf[V any](m map[string]V) map[string]bool {
	s := make(map[string]bool, len(m))
	for k := range m {
		s[k] = true
	}
	return s
}

// compareKeys splits two name sets into the three comparison buckets.
func compareKeys(fs, store map[string]bool) KindComparison {
	var c KindComparison
	for k := range fs {
		if store[k] {
			c.InBoth = append(c.InBoth, k)
		} else {
			c.OnlyInFilesystem = append(c.OnlyInFilesystem, k)
		}
	}
	for k := range store {
		if !fs[k] {
			c.OnlyInStore = append(c.OnlyInStore, k)
		}
	}
	sort.Strings(c.OnlyInFilesystem)
	sort.Strings(c.OnlyInStore)
	sort.Strings(c.InBoth)
	return c
}

// Sync runs a bidirectional synchronization under the given strategy.
func (m *Migrator) Sync(ctx context.Context, strategy SyncStrategy) (SyncReport, error) {
	rep := SyncReport{Strategy: strategy}
	if !strategy.Valid() {
		return rep, fmt.Errorf("unknown sync strategy %q", strategy)
	}

	cmp, err := m.Compare()
	if err != nil {
		return rep, err
	}

	fsDBs, _ := m.fs.LoadDatabases()
	fsQueries, _ := m.fs.LoadQueries()
	fsEndpoints, _ := m.fs.LoadEndpoints()

	m.syncKind(ctx, &rep, KindDatabase, cmp.Databases, strategy, func(name string) (UpsertAction, error) {
		return m.store.UpsertDatabase(ctx, fsDBs[name])
	})
	m.syncKind(ctx, &rep, KindQuery, cmp.Queries, strategy, func(name string) (UpsertAction, error) {
		return m.store.UpsertQuery(ctx, fsQueries[name])
	})
	m.syncKind(ctx, &rep, KindEndpoint, cmp.Endpoints, strategy, func(name string) (UpsertAction, error) {
		return m.store.UpsertEndpoint(ctx, fsEndpoints[name])
	})

	if rep.Successful > 0 {
		m.bus.PublishSync(NewEvent(EventConfigChanged, "sync", map[string]interface{}{
			"operation": "sync",
			"strategy":  string(strategy),
		}))
	}
	return rep, nil
}

// syncKind decides and executes the action for every name of one kind.
func (m *Migrator) syncKind(ctx context.Context, rep *SyncReport, kind Kind,
	cmp KindComparison, strategy SyncStrategy, copyToStore func(string) (UpsertAction, error),
) {
	run := func(name string, action SyncAction) {
		item := SyncItem{Kind: kind, Name: name, Action: action}
		switch action {
		case ActionCopyFSToStore:
			if _, err := copyToStore(name); err != nil {
				rep.Failed++
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s %s: %s", kind, name, err))
				item.Detail = err.Error()
			} else {
				rep.Successful++
			}
		case ActionDeleteFromStore:
			if err := m.store.Delete(ctx, kind, name); err != nil {
				rep.Failed++
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s %s: %s", kind, name, err))
				item.Detail = err.Error()
			} else {
				rep.Successful++
			}
		case ActionCopyStoreToFS:
			// filesystem rewrites are out of scope, record intent only
			item.Detail = "would copy store descriptor to filesystem"
			rep.Successful++
		case ActionManualReview:
			rep.ManualReviewItems = append(rep.ManualReviewItems, item)
		}
		rep.Items = append(rep.Items, item)
	}

	for _, name := range cmp.OnlyInFilesystem {
		run(name, actionFor(strategy, bucketOnlyFS))
	}
	for _, name := range cmp.OnlyInStore {
		run(name, actionFor(strategy, bucketOnlyStore))
	}
	for _, name := range cmp.InBoth {
		run(name, actionFor(strategy, bucketBoth))
	}
}

// comparison buckets for strategy dispatch.
type syncBucket int

const (
	bucketOnlyFS syncBucket = iota
	bucketOnlyStore
	bucketBoth
)

// actionFor maps (strategy, bucket) to the action to execute.
func actionFor(strategy SyncStrategy, bucket syncBucket) SyncAction {
	switch strategy {
	case SyncFSToStore:
		// filesystem is authoritative, store mirrors it exactly
		switch bucket {
		case bucketOnlyFS, bucketBoth:
			return ActionCopyFSToStore
		case bucketOnlyStore:
			return ActionDeleteFromStore
		}
	case SyncStoreToFS:
		// store is authoritative; fs-only descriptors need a human
		switch bucket {
		case bucketOnlyStore, bucketBoth:
			return ActionCopyStoreToFS
		case bucketOnlyFS:
			return ActionManualReview
		}
	case SyncFSWins:
		// additive, filesystem wins conflicts, store keeps its extras
		switch bucket {
		case bucketOnlyFS, bucketBoth:
			return ActionCopyFSToStore
		case bucketOnlyStore:
			return ActionNone
		}
	case SyncStoreWins:
		// additive, store wins conflicts
		switch bucket {
		case bucketOnlyFS:
			return ActionCopyFSToStore
		case bucketOnlyStore, bucketBoth:
			return ActionNone
		}
	case SyncManualReview:
		return ActionManualReview
	}
	return ActionNone
}
