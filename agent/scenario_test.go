package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errScenarioMissing = errors.New("scenario missing")

type memScenarios map[uint]Scenario

func (m memScenarios) ListScenarios(context.Context) ([]Scenario, error) {
	out := make([]Scenario, 0, len(m))
	for i := uint(1); i <= uint(len(m)); i++ {
		if sc, ok := m[i]; ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (m memScenarios) GetScenario(_ context.Context, id uint) (*Scenario, error) {
	sc, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errScenarioMissing, id)
	}
	return &sc, nil
}

// countingRebuilder counts rebuilds per scenario around a real registry.
type countingRebuilder struct {
	*Registry
	rebuilds map[uint]int
}

func (c *countingRebuilder) Rebuild(ctx context.Context, scenarioID uint) (map[string]RegistryEntry, error) {
	c.rebuilds[scenarioID]++
	return c.Registry.Rebuild(ctx, scenarioID)
}

func scenarioFixture(t *testing.T) (*ScenarioService, *countingRebuilder, *memSource) {
	t.Helper()
	src := newMemSource()
	src.put(1, llm(1, "root", 2), llm(2, "s1child"))
	src.put(2, llm(3, "root", 4), llm(4, "s2child"))
	src.put(3, llm(5, "root", 42))

	reg := &countingRebuilder{Registry: newTestRegistry(src), rebuilds: map[uint]int{}}
	scenarios := memScenarios{
		1: {ID: 1, Name: "Fractions"},
		2: {ID: 2, Name: "Photosynthesis"},
		3: {ID: 3, Name: "Broken"},
	}
	return NewScenarioService(scenarios, reg, zap.NewNop()), reg, src
}

func TestScenarioService_NoActiveScenario(t *testing.T) {
	svc, _, _ := scenarioFixture(t)
	_, err := svc.Current()
	assert.ErrorIs(t, err, ErrNoActiveScenario)
	assert.NoError(t, svc.RebuildActive(context.Background()))
}

func TestScenarioService_SwitchRebuildsOnce(t *testing.T) {
	svc, reg, _ := scenarioFixture(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, 1)
	require.NoError(t, err)
	inFlight, err := reg.Lookup("root")
	require.NoError(t, err)

	sc, err := svc.Set(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis", sc.Name)
	assert.Equal(t, 1, reg.rebuilds[2])

	current, err := reg.Lookup("root")
	require.NoError(t, err)
	assert.Equal(t, uint(2), current.Record.ScenarioID)
	assert.Equal(t, []string{"s2child"}, childNames(current.Node))

	// the node resolved under scenario 1 is untouched
	assert.Equal(t, []string{"s1child"}, childNames(inFlight.Node))
	assert.Equal(t, "root", inFlight.Node.Name)
}

func TestScenarioService_RefusesBrokenScenario(t *testing.T) {
	svc, reg, _ := scenarioFixture(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, 1)
	require.NoError(t, err)

	_, err = svc.Set(ctx, 3)
	assert.ErrorIs(t, err, ErrInvalidChildReference)

	active, err := svc.Current()
	require.NoError(t, err)
	assert.Equal(t, uint(1), active.ID)
	entry, err := reg.Lookup("root")
	require.NoError(t, err)
	assert.Equal(t, uint(1), entry.Record.ScenarioID)
}

func TestScenarioService_UnknownScenario(t *testing.T) {
	svc, reg, _ := scenarioFixture(t)
	_, err := svc.Set(context.Background(), 9)
	assert.ErrorIs(t, err, errScenarioMissing)
	assert.Empty(t, reg.rebuilds)
}

func TestScenarioService_RebuildActivePicksUpWrites(t *testing.T) {
	svc, reg, src := scenarioFixture(t)
	ctx := context.Background()
	_, err := svc.Set(ctx, 1)
	require.NoError(t, err)

	src.put(1, llm(1, "root", 2, 6), llm(2, "s1child"), llm(6, "newcomer"))
	require.NoError(t, svc.RebuildActive(ctx))

	entry, err := reg.Lookup("root")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1child", "newcomer"}, childNames(entry.Node))
	assert.Equal(t, 2, reg.rebuilds[1])
}

func TestScenarioService_List(t *testing.T) {
	svc, _, _ := scenarioFixture(t)
	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Fractions", list[0].Name)
}
