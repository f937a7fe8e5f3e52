package ingest

import (
	"fmt"
	"strings"

	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/errs"
)

// Mapper translates between persisted node ids and the short-lived temporary
// ids an extraction or cleanup prompt sees. It is scoped to a single LLM
// round trip and never persisted.
type Mapper struct {
	tempToReal map[string]string
	realToTemp map[string]string

	ordinals map[string]int
}

func NewMapper() *Mapper {
	return &Mapper{
		tempToReal: map[string]string{},
		realToTemp: map[string]string{},
		ordinals:   map[string]int{},
	}
}

// Register binds tempID to realID. Both sides must be unused; a duplicate on
// either side means the caller built the mapping wrong.
func (m *Mapper) Register(tempID, realID string) error {
	if tempID == "" || realID == "" {
		return errs.Validationf("mapper: empty id (temp=%q real=%q)", tempID, realID)
	}
	if existing, ok := m.tempToReal[tempID]; ok {
		return errs.Logicf("mapper: temp id %s already bound to %s", tempID, existing)
	}
	if existing, ok := m.realToTemp[realID]; ok {
		return errs.Logicf("mapper: real id %s already bound to %s", realID, existing)
	}
	m.tempToReal[tempID] = realID
	m.realToTemp[realID] = tempID
	return nil
}

// RegisterExisting assigns the next "existing_<nodetype>_<n>" id for a node
// already in the graph and returns it. Registering the same node twice
// returns the id it already has.
func (m *Mapper) RegisterExisting(nodeType types.NodeType, realID string) (string, error) {
	if temp, ok := m.realToTemp[realID]; ok {
		return temp, nil
	}
	prefix := "existing_" + strings.ToLower(string(nodeType))
	m.ordinals[prefix]++
	temp := fmt.Sprintf("%s_%d", prefix, m.ordinals[prefix])
	if err := m.Register(temp, realID); err != nil {
		return "", err
	}
	return temp, nil
}

// NextTempID hands out sequential ids under an arbitrary prefix, e.g.
// "temp_node" for cleanup subgraphs.
func (m *Mapper) NextTempID(prefix string) string {
	m.ordinals[prefix]++
	return fmt.Sprintf("%s_%d", prefix, m.ordinals[prefix])
}

func (m *Mapper) RealID(tempID string) (string, bool) {
	id, ok := m.tempToReal[tempID]
	return id, ok
}

func (m *Mapper) TempID(realID string) (string, bool) {
	id, ok := m.realToTemp[realID]
	return id, ok
}

// Known reports whether tempID is bound, without resolving it.
func (m *Mapper) Known(tempID string) bool {
	_, ok := m.tempToReal[tempID]
	return ok
}

func (m *Mapper) Len() int { return len(m.tempToReal) }
