package engine

import (
	ast "secwaf/secrule/ast"
	"secwaf/testutils"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareTransaction(t *testing.T) *Transaction {
	e, err := LoadString(Options{Logger: testutils.NewTestLogger(t)}, "")
	require.NoError(t, err)
	return NewTransaction(e, "203.0.113.7", 4711, "10.0.0.1", 443)
}

func setVar(t *testing.T, tx *Transaction, param string) {
	sv, err := parseSetVarHelper(param)
	require.NoError(t, err)
	require.NoError(t, tx.executeSetVar(sv))
}

// parseSetVarHelper builds a SetVarAction the way the parser would.
func parseSetVarHelper(param string) (*ast.SetVarAction, error) {
	variable := param
	op := ast.Set
	value := "1"

	if param[0] == '!' {
		return &ast.SetVarAction{Variable: ast.MakeValue(param[1:]), Operator: ast.DeleteVar}, nil
	}

	for i := 0; i < len(param); i++ {
		if param[i] == '=' {
			variable = param[:i]
			value = param[i+1:]
			if len(value) > 0 && value[0] == '+' {
				op = ast.Increment
				value = value[1:]
			} else if len(value) > 0 && value[0] == '-' {
				op = ast.Decrement
				value = value[1:]
			}
			break
		}
	}

	return &ast.SetVarAction{Variable: ast.MakeValue(variable), Operator: op, Value: ast.MakeValue(value)}, nil
}

func TestSetVarSetAndGet(t *testing.T) {
	tx := newBareTransaction(t)

	setVar(t, tx, "tx.anomaly=5")

	assert.Equal(t, "5", tx.env.Get(ast.TargetTx, "anomaly").String())
}

func TestSetVarIncrementDecrement(t *testing.T) {
	tx := newBareTransaction(t)

	setVar(t, tx, "tx.score=+3")
	setVar(t, tx, "tx.score=+2")
	assert.Equal(t, "5", tx.env.Get(ast.TargetTx, "score").String())

	setVar(t, tx, "tx.score=-1")
	assert.Equal(t, "4", tx.env.Get(ast.TargetTx, "score").String())
}

func TestSetVarNumericOnNonNumericTreatsAsZero(t *testing.T) {
	tx := newBareTransaction(t)

	setVar(t, tx, "tx.score=banana")
	setVar(t, tx, "tx.score=+2")

	assert.Equal(t, "2", tx.env.Get(ast.TargetTx, "score").String())
}

func TestSetVarDelete(t *testing.T) {
	tx := newBareTransaction(t)

	setVar(t, tx, "tx.gone=1")
	setVar(t, tx, "!tx.gone")

	assert.Nil(t, tx.env.Get(ast.TargetTx, "gone"))
}

func TestSetVarUnknownCollectionFails(t *testing.T) {
	tx := newBareTransaction(t)

	sv := &ast.SetVarAction{Variable: ast.MakeValue("bogus.x"), Operator: ast.Set, Value: ast.MakeValue("1")}
	assert.Error(t, tx.executeSetVar(sv))

	sv = &ast.SetVarAction{Variable: ast.MakeValue("nodot"), Operator: ast.Set, Value: ast.MakeValue("1")}
	assert.Error(t, tx.executeSetVar(sv))
}

func TestEnvironmentExpandMacros(t *testing.T) {
	// Arrange
	tx := newBareTransaction(t)
	setVar(t, tx, "tx.name=world")

	v := ast.Value{
		ast.StringToken("hello "),
		ast.MacroToken{Name: ast.TargetTx, Selector: "name"},
		ast.StringToken(" from "),
		ast.MacroToken{Name: ast.TargetRemoteAddr},
	}

	// Act
	expanded := tx.env.ExpandMacros(v)

	// Assert
	assert.Equal(t, "hello world from 203.0.113.7", expanded.String())
}

func TestEnvironmentUnresolvableMacroExpandsToBlank(t *testing.T) {
	tx := newBareTransaction(t)

	v := ast.Value{ast.StringToken("x"), ast.MacroToken{Name: ast.TargetTx, Selector: "missing"}, ast.StringToken("y")}

	assert.Equal(t, "xy", tx.env.ExpandMacros(v).String())
}

func TestScalarVariables(t *testing.T) {
	// Arrange
	tx := newBareTransaction(t)
	tx.ProcessURI("/a/b.php?x=1&y=2", "POST", "HTTP/1.1")

	// Act and assert
	type testcase struct {
		name     ast.TargetName
		expected string
	}
	tests := []testcase{
		{ast.TargetRequestMethod, "POST"},
		{ast.TargetRequestURI, "/a/b.php?x=1&y=2"},
		{ast.TargetRequestFilename, "/a/b.php"},
		{ast.TargetRequestBasename, "b.php"},
		{ast.TargetQueryString, "x=1&y=2"},
		{ast.TargetRequestLine, "POST /a/b.php?x=1&y=2 HTTP/1.1"},
		{ast.TargetRemoteAddr, "203.0.113.7"},
		{ast.TargetRemotePort, "4711"},
		{ast.TargetServerAddr, "10.0.0.1"},
		{ast.TargetServerPort, "443"},
		{ast.TargetArgsCombinedSize, "4"},
	}

	for _, test := range tests {
		s, ok := tx.lookupScalar(test.name)
		require.True(t, ok, "variable %v", ast.TargetNamesStrings[test.name])
		assert.Equal(t, test.expected, s, "variable %v", ast.TargetNamesStrings[test.name])
	}
}

func TestResolveTargetCollections(t *testing.T) {
	// Arrange
	tx := newBareTransaction(t)
	tx.ProcessURI("/?id=10&name=bob&id=20", "GET", "HTTP/1.1")

	// Act: whole collection.
	vv, err := tx.resolveTarget(ast.Target{Name: ast.TargetArgs}, nil)
	require.NoError(t, err)
	require.Len(t, vv, 3)

	// By key, duplicates included.
	vv, err = tx.resolveTarget(ast.Target{Name: ast.TargetArgs, Selector: "id"}, nil)
	require.NoError(t, err)
	require.Len(t, vv, 2)
	assert.Equal(t, "10", string(vv[0].Data))
	assert.Equal(t, "20", string(vv[1].Data))

	// Count.
	vv, err = tx.resolveTarget(ast.Target{Name: ast.TargetArgs, IsCount: true}, nil)
	require.NoError(t, err)
	require.Len(t, vv, 1)
	assert.Equal(t, "3", string(vv[0].Data))

	// Names.
	vv, err = tx.resolveTarget(ast.Target{Name: ast.TargetArgsNames}, nil)
	require.NoError(t, err)
	require.Len(t, vv, 3)
	assert.Equal(t, "id", string(vv[0].Data))
}

func TestResolveTargetExclusion(t *testing.T) {
	// Arrange
	tx := newBareTransaction(t)
	tx.ProcessURI("/?safe=x&bad=y", "GET", "HTTP/1.1")

	except := []ast.Target{{Name: ast.TargetArgs, Selector: "safe"}}

	// Act
	vv, err := tx.resolveTarget(ast.Target{Name: ast.TargetArgs}, except)

	// Assert
	require.NoError(t, err)
	require.Len(t, vv, 1)
	assert.Equal(t, "bad", vv[0].Key)
}

func TestUniqueIDAndDuration(t *testing.T) {
	tx := newBareTransaction(t)

	id, ok := tx.lookupScalar(ast.TargetUniqueID)
	require.True(t, ok)
	assert.NotEmpty(t, id)

	d, ok := tx.lookupScalar(ast.TargetDuration)
	require.True(t, ok)
	assert.NotEmpty(t, d)
}

func TestTimeVariables(t *testing.T) {
	tx := newBareTransaction(t)

	for _, name := range []ast.TargetName{
		ast.TargetTime, ast.TargetTimeSec, ast.TargetTimeMin, ast.TargetTimeHour,
		ast.TargetTimeDay, ast.TargetTimeMon, ast.TargetTimeYear, ast.TargetTimeWday, ast.TargetTimeEpoch,
	} {
		s, ok := tx.lookupScalar(name)
		require.True(t, ok, "variable %v", ast.TargetNamesStrings[name])
		assert.NotEmpty(t, s, "variable %v", ast.TargetNamesStrings[name])
	}
}
