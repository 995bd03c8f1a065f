package persistence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lambdamap/lambdamap/store"
	"github.com/lambdamap/lambdamap/store/memory"
	"github.com/lambdamap/lambdamap/util/codecs"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PERSISTENCE_TABLE_NAME", "TestingAWSLambdaPersistence")
	t.Setenv("PERSISTENCE_TABLE_KEY", "test-function")
}

func TestEndToEndScenario(t *testing.T) {
	setTestEnv(t)
	st := memory.New()

	// fresh map with no existing table: provisioning write only
	data, err := New(st, codecs.DefaultSerializer(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, data.TotalGets())
	assert.Equal(t, 1, data.TotalPuts())

	// second instance seeded with content
	data, err = New(st, codecs.DefaultSerializer(), Args{"foo": 42})
	require.NoError(t, err)
	assert.Equal(t, 0, data.TotalGets())
	assert.Equal(t, 1, data.TotalPuts())
	v, ok := data.Get("foo")
	require.True(t, ok)
	assert.EqualValues(t, 42, v)

	// third instance loads what the second wrote
	data, err = New(st, codecs.DefaultSerializer(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, data.TotalGets())
	assert.Equal(t, 0, data.TotalPuts())
	v, ok = data.Get("foo")
	require.True(t, ok)
	assert.EqualValues(t, 42, v)

	// changing a value costs one put
	require.NoError(t, data.Set("foo", 52))
	assert.Equal(t, 1, data.TotalPuts())
	v, _ = data.Get("foo")
	assert.EqualValues(t, 52, v)

	// bulk update collapses to one put
	require.NoError(t, data.Update(map[string]interface{}{"foo": 62, "bar": "buz"}))
	assert.Equal(t, 2, data.TotalPuts())
	v, _ = data.Get("bar")
	assert.Equal(t, "buz", v)

	require.NoError(t, data.Delete("bar"))
	assert.Equal(t, 3, data.TotalPuts())
	assert.False(t, data.Contains("bar"))

	require.NoError(t, data.Clear())
	assert.Equal(t, 4, data.TotalPuts())
	assert.Equal(t, 0, data.Len())

	// deleting a key that was never set fails
	err = data.Delete("never")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestWriteCoalescing(t *testing.T) {
	setTestEnv(t)
	st := memory.New()

	data, err := New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to create map: %s", err)
	}
	puts := data.TotalPuts()

	if err := data.Set("foo", 42); err != nil {
		t.Fatalf("set failed: %s", err)
	}
	if data.TotalPuts() != puts+1 {
		t.Fatalf("expected one put, got %d", data.TotalPuts()-puts)
	}

	// same value again and again, no further puts
	for i := 0; i < 5; i++ {
		if err := data.Set("foo", 42); err != nil {
			t.Fatalf("set failed: %s", err)
		}
	}
	if data.TotalPuts() != puts+1 {
		t.Errorf("identical sets triggered writes, puts = %d", data.TotalPuts()-puts)
	}

	// logically equal value of a different integer width, still no put
	if err := data.Set("foo", int64(42)); err != nil {
		t.Fatalf("set failed: %s", err)
	}
	if data.TotalPuts() != puts+1 {
		t.Errorf("equal-encoding set triggered a write")
	}
}

func TestBulkUpdateCollapse(t *testing.T) {
	setTestEnv(t)
	st := memory.New()

	data, err := New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to create map: %s", err)
	}
	puts := data.TotalPuts()

	entries := map[string]interface{}{
		"bar": time.Date(2021, 11, 13, 3, 16, 8, 549614000, time.UTC),
		"foo": map[string]interface{}{"buz": "bad"},
	}
	if err := data.Update(entries); err != nil {
		t.Fatalf("update failed: %s", err)
	}
	if data.TotalPuts() != puts+1 {
		t.Fatalf("expected exactly one put, got %d", data.TotalPuts()-puts)
	}

	// identical update must not write at all
	if err := data.Update(entries); err != nil {
		t.Fatalf("update failed: %s", err)
	}
	if data.TotalPuts() != puts+1 {
		t.Errorf("identical update triggered a write")
	}
}

func TestIdempotentClear(t *testing.T) {
	setTestEnv(t)
	st := memory.New()

	data, err := New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to create map: %s", err)
	}
	puts := data.TotalPuts()

	// map is already empty, clear has nothing to persist
	if err := data.Clear(); err != nil {
		t.Fatalf("clear failed: %s", err)
	}
	if data.TotalPuts() != puts {
		t.Errorf("clear of an empty map triggered a write")
	}

	if err := data.Set("foo", 1); err != nil {
		t.Fatalf("set failed: %s", err)
	}
	if err := data.Clear(); err != nil {
		t.Fatalf("clear failed: %s", err)
	}
	if data.Len() != 0 {
		t.Errorf("expected empty map, len = %d", data.Len())
	}
	if data.TotalPuts() != puts+2 {
		t.Errorf("expected two puts total, got %d", data.TotalPuts()-puts)
	}
}

func TestTimeValueRoundTrip(t *testing.T) {
	setTestEnv(t)
	st := memory.New()

	data, err := New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to create map: %s", err)
	}

	now := time.Now()
	if err := data.Set("bar", now); err != nil {
		t.Fatalf("set failed: %s", err)
	}

	data, err = New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to load map: %s", err)
	}
	v, ok := data.Get("bar")
	if !ok {
		t.Fatalf("expected bar to be present")
	}
	stored, ok := v.(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", v)
	}
	if !stored.Equal(now) {
		t.Errorf("time round trip = %s, want %s", stored, now)
	}
}

func TestLoadFromExistingTableMissingRecord(t *testing.T) {
	setTestEnv(t)
	st := memory.New()

	// provision through a first instance, then drop the record
	data, err := New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to create map: %s", err)
	}
	if err := st.Delete(data.Config().TableName, data.Config().KeyFieldName, data.Config().TableKey); err != nil {
		t.Fatalf("failed to delete record: %s", err)
	}

	data, err = New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to load map: %s", err)
	}
	if data.Len() != 0 {
		t.Errorf("expected empty map, len = %d", data.Len())
	}
	// observing an absent record is not a write
	if data.TotalPuts() != 0 {
		t.Errorf("absent record triggered %d writes", data.TotalPuts())
	}
	if data.TotalGets() != 1 {
		t.Errorf("expected one get, got %d", data.TotalGets())
	}

	// the empty snapshot makes an immediate clear a no-op
	if err := data.Clear(); err != nil {
		t.Fatalf("clear failed: %s", err)
	}
	if data.TotalPuts() != 0 {
		t.Errorf("clear after empty load triggered a write")
	}
}

func TestSeededFromPositionalContent(t *testing.T) {
	setTestEnv(t)
	st := memory.New()

	if _, err := New(st, codecs.DefaultSerializer(), nil); err != nil {
		t.Fatalf("failed to provision: %s", err)
	}

	// positional content may be combined with configuration kwargs,
	// kwargs content overrides positional on duplicate keys
	data, err := NewFrom(st, codecs.DefaultSerializer(),
		map[string]interface{}{"a": 1, "b": 2},
		Args{"b": 20, "c": 3})
	if err != nil {
		t.Fatalf("failed to seed map: %s", err)
	}
	if data.TotalPuts() != 1 {
		t.Errorf("seeding should force exactly one put, got %d", data.TotalPuts())
	}
	v, _ := data.Get("b")
	if v != 20 {
		t.Errorf("kwargs entry should override positional, got %v", v)
	}

	data, err = NewFrom(st, codecs.DefaultSerializer(),
		map[string]interface{}{"x": 1},
		Args{"table_key": "other-function"})
	if err != nil {
		t.Fatalf("failed to seed with config kwargs: %s", err)
	}
	// PERSISTENCE_TABLE_KEY is set, environment wins over the argument
	if data.Config().TableKey != "test-function" {
		t.Errorf("environment override lost to argument: %s", data.Config().TableKey)
	}
}

func TestSeededFromEmptyPositionalContent(t *testing.T) {
	setTestEnv(t)
	st := memory.New()

	// provision the table and leave an existing record behind
	if _, err := New(st, codecs.DefaultSerializer(), nil); err != nil {
		t.Fatalf("failed to provision: %s", err)
	}
	data, err := New(st, codecs.DefaultSerializer(), Args{"foo": 42})
	if err != nil {
		t.Fatalf("failed to seed map: %s", err)
	}

	// an empty but supplied content mapping still seeds, it must not
	// fall back to loading the existing record
	data, err = NewFrom(st, codecs.DefaultSerializer(), map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("failed to seed empty map: %s", err)
	}
	if data.TotalGets() != 0 {
		t.Errorf("empty seed should not read, got %d gets", data.TotalGets())
	}
	if data.TotalPuts() != 1 {
		t.Errorf("empty seed should force exactly one put, got %d", data.TotalPuts())
	}
	if data.Len() != 0 {
		t.Errorf("expected empty map, len = %d", data.Len())
	}

	// the empty store really was persisted
	data, err = New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to load map: %s", err)
	}
	if data.Len() != 0 {
		t.Errorf("remote record should be empty, got %s", data.String())
	}
}

func TestUpdateRestoresLatchOnError(t *testing.T) {
	setTestEnv(t)
	st := memory.New()

	data, err := New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to create map: %s", err)
	}
	puts := data.TotalPuts()

	// channels cannot be encoded, the merge fails mid-save
	err = data.Update(map[string]interface{}{"bad": make(chan int)})
	if err == nil {
		t.Fatal("expected an encode error")
	}

	// the latch must be back on: later mutations still write
	if err := data.Delete("bad"); err != nil {
		t.Fatalf("delete failed: %s", err)
	}
	if err := data.Set("foo", 1); err != nil {
		t.Fatalf("set failed: %s", err)
	}
	if data.TotalPuts() != puts+1 {
		t.Errorf("expected the set to write, got %d puts", data.TotalPuts()-puts)
	}
}

func TestMissingPermissionsOnLoad(t *testing.T) {
	setTestEnv(t)
	st := memory.New()
	st.SetError(store.ErrAccessDenied)

	_, err := New(st, codecs.DefaultSerializer(), nil)
	if !errors.Is(err, ErrMissingPermissions) {
		t.Fatalf("expected ErrMissingPermissions, got %v", err)
	}
	if err.Error() != PermissionMessage {
		t.Errorf("permission error must carry the fixed actionable message")
	}
}

func TestMissingPermissionsOnSeed(t *testing.T) {
	setTestEnv(t)
	st := memory.New()
	if err := st.Create("TestingAWSLambdaPersistence", "key"); err != nil {
		t.Fatalf("create failed: %s", err)
	}
	st.SetError(store.ErrAccessDenied)

	_, err := New(st, codecs.DefaultSerializer(), Args{"foo": 42})
	if !errors.Is(err, ErrMissingPermissions) {
		t.Fatalf("expected ErrMissingPermissions, got %v", err)
	}
}

func TestFailedWriteIsRetriedByNextMutation(t *testing.T) {
	setTestEnv(t)
	st := memory.New()

	data, err := New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to create map: %s", err)
	}

	transient := errors.New("throughput exceeded")
	st.SetError(transient)
	err = data.Set("foo", 42)
	if !errors.Is(err, transient) {
		t.Fatalf("expected transient error to pass through, got %v", err)
	}
	// local state stays correct
	v, ok := data.Get("foo")
	if !ok || v != 42 {
		t.Fatalf("in memory value lost after failed write")
	}

	// snapshot did not advance, so the next mutation's save carries
	// the pending delta along
	st.SetError(nil)
	if err := data.Set("bar", 1); err != nil {
		t.Fatalf("retry failed: %s", err)
	}

	loaded, err := New(st, codecs.DefaultSerializer(), nil)
	if err != nil {
		t.Fatalf("failed to load map: %s", err)
	}
	v, ok = loaded.Get("foo")
	if !ok {
		t.Fatalf("expected foo to be persisted after retry")
	}
	if vi, _ := v.(int64); vi != 42 {
		t.Errorf("unexpected persisted value: %v", v)
	}
}

func TestOtherBackendErrorsPropagateUnchanged(t *testing.T) {
	setTestEnv(t)
	st := memory.New()
	boom := errors.New("internal server error")
	st.SetError(boom)

	_, err := New(st, codecs.DefaultSerializer(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected backend error to propagate, got %v", err)
	}
	if errors.Is(err, ErrMissingPermissions) {
		t.Errorf("non-authorization error was translated")
	}
}
