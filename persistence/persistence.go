package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lambdamap/lambdamap/store"
	"github.com/lambdamap/lambdamap/util/codecs"

	log "github.com/sirupsen/logrus"
)

var putsCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "lambdamap_puts_total",
		Help: "How many records were written to the backing store.",
	},
)

var getsCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "lambdamap_gets_total",
		Help: "How many records were read from the backing store.",
	},
)

var tablesCreatedCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "lambdamap_tables_created_total",
		Help: "How many backing tables were provisioned on first use.",
	},
)

func init() {
	prometheus.MustRegister(putsCounter)
	prometheus.MustRegister(getsCounter)
	prometheus.MustRegister(tablesCreatedCounter)
}

// PermissionMessage - the exact permissions the function's role needs
const PermissionMessage = `The AWS Lambda function's IAM role is missing a necessary permission. The
role requires the following permissions:
dynamodb:{CreateTable,TagResource,PutItem,DescribeTable,GetItem}
and should have a policy like :
{
    "Sid": "AllowPersistentMap",
    "Effect": "Allow",
    "Action": [
        "dynamodb:CreateTable",
        "dynamodb:TagResource",
        "dynamodb:PutItem",
        "dynamodb:DescribeTable",
        "dynamodb:GetItem"
    ],
    "Resource": "arn:aws:dynamodb:*:*:table/AWSLambdaPersistence"
}`

// persistence errors
var (
	// ErrMissingPermissions - the backing store rejected a call for
	// lack of IAM permissions. The message names the exact
	// permissions required.
	ErrMissingPermissions = errors.New(PermissionMessage)

	// ErrKeyNotFound - returned by Delete when the key is absent
	ErrKeyNotFound = errors.New("key not found")
)

// Map - a mutable mapping whose contents are durably persisted in a
// single backing store record, letting a stateless function
// invocation read state left by a previous invocation. Writes are
// coalesced: a mutation only reaches the backing store when the
// encoded contents differ from the last persisted snapshot.
//
// A Map is meant for a single owner at a time. There is no locking
// and no conflict resolution, a concurrent writer under the same
// record identity wins by writing last.
type Map struct {
	store      store.Store
	serializer codecs.Serializer

	config Config

	contents map[string]interface{}
	// snapshot - encoded form of the last durably persisted contents,
	// nil until first contact with the backing store
	snapshot []byte

	saveOnSet bool

	totalPuts int
	totalGets int
}

// New creates a Map. Argument keys matching recognized configuration
// option names (table_name, table_key, key_field_name,
// value_field_name) configure the map, any other key becomes initial
// content; mixing both kinds returns MixedArgumentsError.
//
// With no content arguments the map loads its contents from the
// backing store, provisioning the table on first ever use. With
// content arguments it seeds itself and forces exactly one write.
func New(st store.Store, serializer codecs.Serializer, kwargs Args) (*Map, error) {
	return NewFrom(st, serializer, nil, kwargs)
}

// NewFrom creates a Map seeded from an explicit content mapping plus
// keyword arguments. Entries from kwargs override entries from
// content on duplicate keys, like a regular map update.
func NewFrom(st store.Store, serializer codecs.Serializer, content map[string]interface{}, kwargs Args) (*Map, error) {
	if st == nil {
		return nil, errors.New("persistence: backing store is required")
	}
	if serializer == nil {
		serializer = codecs.DefaultSerializer()
	}

	if err := checkMixedArgs(kwargs); err != nil {
		return nil, err
	}
	cfg, err := resolveConfig(kwargs)
	if err != nil {
		return nil, err
	}

	m := &Map{
		store:      st,
		serializer: serializer,
		config:     cfg,
		contents:   make(map[string]interface{}),
		saveOnSet:  true,
	}

	contentArgs := contentArguments(kwargs)
	// a non-nil empty content mapping still means "seed me", it
	// forces one write of the empty store
	if content != nil || len(contentArgs) > 0 {
		// seed mode: populate in memory, then force one full write
		m.saveOnSet = false
		for k, v := range content {
			m.contents[k] = v
		}
		for k, v := range contentArgs {
			m.contents[k] = v
		}
		m.saveOnSet = true
		if err := m.save(); err != nil {
			return nil, err
		}
		return m, nil
	}

	// load mode
	if err := m.fetch(); err != nil {
		return nil, err
	}
	return m, nil
}

// fetch loads the current record, provisioning the table when it
// does not exist yet
func (m *Map) fetch() error {
	exists, err := m.store.Describe(m.config.TableName)
	if err != nil {
		return m.translate(err)
	}

	if !exists {
		return m.provision()
	}

	m.totalGets++
	getsCounter.Inc()
	encoded, err := m.store.Get(m.config.TableName, m.config.KeyFieldName, m.config.TableKey, m.config.ValueFieldName)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			// table exists but holds nothing for this identity,
			// observing that is not a write
			empty, err := m.serializer.Encode(m.contents)
			if err != nil {
				return err
			}
			m.snapshot = empty
			return nil
		}
		return m.translate(err)
	}

	var contents map[string]interface{}
	if err := m.serializer.Decode(encoded, &contents); err != nil {
		return err
	}
	if contents == nil {
		contents = make(map[string]interface{})
	}
	m.contents = contents
	m.snapshot = encoded
	return nil
}

// provision creates the backing table, waits until it is ready and
// writes the initial empty record. The initial write counts as one
// put.
func (m *Map) provision() error {
	log.WithFields(log.Fields{
		"table": m.config.TableName,
		"key":   m.config.TableKey,
	}).Info("persistence: table missing, provisioning")

	if err := m.store.Create(m.config.TableName, m.config.KeyFieldName); err != nil {
		return m.translate(err)
	}
	tablesCreatedCounter.Inc()

	encoded, err := m.serializer.Encode(m.contents)
	if err != nil {
		return err
	}
	m.totalPuts++
	putsCounter.Inc()
	if err := m.store.Put(m.config.TableName, m.config.KeyFieldName, m.config.TableKey, m.config.ValueFieldName, encoded); err != nil {
		return m.translate(err)
	}
	m.snapshot = encoded
	return nil
}

// save writes the full contents to the backing store, unless the
// encoded contents are byte identical to the last persisted snapshot
// or saving is currently latched off by a bulk operation. The
// snapshot only advances on a confirmed successful write, so a
// failed write is retried by the next mutation.
func (m *Map) save() error {
	encoded, err := m.serializer.Encode(m.contents)
	if err != nil {
		return err
	}
	if bytes.Equal(encoded, m.snapshot) || !m.saveOnSet {
		return nil
	}

	m.totalPuts++
	putsCounter.Inc()
	err = m.store.Put(m.config.TableName, m.config.KeyFieldName, m.config.TableKey, m.config.ValueFieldName, encoded)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"table": m.config.TableName,
			"key":   m.config.TableKey,
		}).Error("persistence: failed to write record")
		return m.translate(err)
	}

	log.WithFields(log.Fields{
		"table": m.config.TableName,
		"key":   m.config.TableKey,
		"bytes": len(encoded),
	}).Debug("persistence: record saved")

	m.snapshot = encoded
	return nil
}

// translate turns backing store authorization failures into the
// actionable permission error, everything else passes through
func (m *Map) translate(err error) error {
	if errors.Is(err, store.ErrAccessDenied) {
		return ErrMissingPermissions
	}
	return err
}

// Set stores value under key. When the key already holds a value
// with an identical encoding this is a no-op and nothing is written.
func (m *Map) Set(key string, value interface{}) error {
	if current, ok := m.contents[key]; ok {
		a, err := m.serializer.Encode(value)
		if err != nil {
			return err
		}
		b, err := m.serializer.Encode(current)
		if err != nil {
			return err
		}
		if bytes.Equal(a, b) {
			return nil
		}
	}
	m.contents[key] = value
	return m.save()
}

// Delete removes key, returning ErrKeyNotFound when it is absent
func (m *Map) Delete(key string) error {
	if _, ok := m.contents[key]; !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	delete(m.contents, key)
	return m.save()
}

// Clear removes all entries with at most one write
func (m *Map) Clear() error {
	m.saveOnSet = false
	m.contents = make(map[string]interface{})
	m.saveOnSet = true
	return m.save()
}

// Update merges entries into the map with at most one write. Later
// entries override earlier ones on duplicate keys.
func (m *Map) Update(entries map[string]interface{}) error {
	m.saveOnSet = false
	defer func() { m.saveOnSet = true }()
	for k, v := range entries {
		if err := m.Set(k, v); err != nil {
			return err
		}
	}
	m.saveOnSet = true
	return m.save()
}

// Get returns the value stored under key. Purely in memory.
func (m *Map) Get(key string) (interface{}, bool) {
	value, ok := m.contents[key]
	return value, ok
}

// Contains reports whether key is present
func (m *Map) Contains(key string) bool {
	_, ok := m.contents[key]
	return ok
}

// Len returns the number of entries
func (m *Map) Len() int {
	return len(m.contents)
}

// Keys returns all keys in sorted order
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.contents))
	for k := range m.contents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Map) String() string {
	return fmt.Sprintf("%v", m.contents)
}

// TotalPuts returns how many write operations this instance issued
func (m *Map) TotalPuts() int {
	return m.totalPuts
}

// TotalGets returns how many read operations this instance issued
func (m *Map) TotalGets() int {
	return m.totalGets
}

// Config returns the resolved, immutable configuration
func (m *Map) Config() Config {
	return m.config
}
