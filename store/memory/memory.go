package memory

import (
	"fmt"

	"github.com/lambdamap/lambdamap/store"
)

type requestType int

// Request types
const (
	DESCRIBE requestType = iota
	CREATE
	GET
	PUT
	DELETE
	SETERR
)

type (
	// record - key to encoded value inside one table
	record map[string][]byte

	// Store - in memory implementation of store.Store, used as a
	// substitutable backing store in tests. All access is serialized
	// through a single service goroutine.
	Store struct {
		tables         map[string]record
		failWith       error
		requestChannel chan *request
	}

	request struct {
		requestType
		table           string
		key             string
		value           []byte
		err             error
		responseChannel chan *response
	}
	response struct {
		error
		exists bool
		value  []byte
	}
)

// New creates a new in memory store
func New() *Store {
	s := &Store{
		tables:         make(map[string]record),
		requestChannel: make(chan *request),
	}
	go s.service()
	return s
}

func (s *Store) service() {
	for {
		req := <-s.requestChannel
		resp := &response{}
		if s.failWith != nil && req.requestType != SETERR {
			resp.error = s.failWith
			req.responseChannel <- resp
			continue
		}
		switch req.requestType {
		case DESCRIBE:
			_, ok := s.tables[req.table]
			resp.exists = ok
			req.responseChannel <- resp
		case CREATE:
			s.tables[req.table] = record{}
			req.responseChannel <- resp
		case GET:
			tbl, ok := s.tables[req.table]
			if !ok {
				resp.error = store.ErrTableNotFound
			} else if val, ok := tbl[req.key]; !ok {
				resp.error = store.ErrRecordNotFound
			} else {
				resp.value = val
			}
			req.responseChannel <- resp
		case PUT:
			tbl, ok := s.tables[req.table]
			if !ok {
				resp.error = store.ErrTableNotFound
			} else {
				tbl[req.key] = req.value
			}
			req.responseChannel <- resp
		case DELETE:
			if tbl, ok := s.tables[req.table]; ok {
				delete(tbl, req.key)
			}
			req.responseChannel <- resp
		case SETERR:
			s.failWith = req.err
			req.responseChannel <- resp
		default:
			resp.error = fmt.Errorf("invalid request type: %v", req.requestType)
			req.responseChannel <- resp
		}
	}
}

func (s *Store) do(req *request) *response {
	req.responseChannel = make(chan *response)
	s.requestChannel <- req
	return <-req.responseChannel
}

// Describe reports whether the table exists
func (s *Store) Describe(table string) (bool, error) {
	resp := s.do(&request{requestType: DESCRIBE, table: table})
	return resp.exists, resp.error
}

// Create provisions the table. Always immediately ready.
func (s *Store) Create(table, keyField string) error {
	resp := s.do(&request{requestType: CREATE, table: table})
	return resp.error
}

// Put writes the encoded value into the record identified by key
func (s *Store) Put(table, keyField, key, valueField string, value []byte) error {
	resp := s.do(&request{requestType: PUT, table: table, key: key, value: value})
	return resp.error
}

// Get reads the encoded value stored under key
func (s *Store) Get(table, keyField, key, valueField string) ([]byte, error) {
	resp := s.do(&request{requestType: GET, table: table, key: key})
	return resp.value, resp.error
}

// Delete removes the record identified by key
func (s *Store) Delete(table, keyField, key string) error {
	resp := s.do(&request{requestType: DELETE, table: table, key: key})
	return resp.error
}

// SetError makes every subsequent operation fail with err until
// called again with nil. Used to exercise failure paths in tests.
func (s *Store) SetError(err error) {
	s.do(&request{requestType: SETERR, err: err})
}
