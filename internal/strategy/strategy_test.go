package strategy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultStrategy(t *testing.T) {
	s := NewDefaultStrategy("Test Strategy")

	assert.NotNil(t, s)
	assert.Equal(t, "Test Strategy", s.Metadata.Name)
	assert.Equal(t, SchemaVersion, s.Metadata.SchemaVersion)
	assert.NotEmpty(t, s.Metadata.ID)
	assert.Equal(t, "user", s.Metadata.Source)
	assert.Equal(t, "rsi_only", s.Parameters["entry_option"])
	assert.Equal(t, 10.0, s.Parameters["leverage"])
}

func TestStrategyConfig_Validate_Valid(t *testing.T) {
	s := NewDefaultStrategy("Valid Strategy")
	assert.NoError(t, s.Validate())
}

func TestStrategyConfig_Validate_MissingSchemaVersion(t *testing.T) {
	s := NewDefaultStrategy("Test")
	s.Metadata.SchemaVersion = ""

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema_version")
}

func TestStrategyConfig_Validate_InvalidSchemaVersion(t *testing.T) {
	s := NewDefaultStrategy("Test")
	s.Metadata.SchemaVersion = "99.0"

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestStrategyConfig_Validate_MissingName(t *testing.T) {
	s := NewDefaultStrategy("")

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestStrategyConfig_Validate_NameTooLong(t *testing.T) {
	s := NewDefaultStrategy(strings.Repeat("a", 101))

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "100 characters")
}

func TestStrategyConfig_Validate_BadParameters(t *testing.T) {
	s := NewDefaultStrategy("Test")
	s.Parameters["leverage"] = -5.0

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameters.leverage")
}

func TestStrategyConfig_Validate_BadPyramidingLimit(t *testing.T) {
	s := NewDefaultStrategy("Test")
	s.Parameters["pyramiding_limit"] = 20.0

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pyramiding_limit")
}

func TestStrategyConfig_ValidateQuick(t *testing.T) {
	s := NewDefaultStrategy("Test")
	assert.NoError(t, s.ValidateQuick())

	s.Metadata.Name = ""
	err := s.ValidateQuick()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestStrategyConfig_DeepCopy(t *testing.T) {
	s := NewDefaultStrategy("Original")
	c := s.DeepCopy()

	require.NotNil(t, c)
	assert.Equal(t, s.Metadata.Name, c.Metadata.Name)
	assert.Equal(t, s.Parameters["leverage"], c.Parameters["leverage"])

	c.Parameters["leverage"] = 99.0
	c.Metadata.Name = "Changed"
	assert.NotEqual(t, s.Parameters["leverage"], c.Parameters["leverage"])
	assert.NotEqual(t, s.Metadata.Name, c.Metadata.Name)
}

func TestStrategyConfig_DeepCopy_Nil(t *testing.T) {
	var s *StrategyConfig
	assert.Nil(t, s.DeepCopy())
}

func TestExportImport_YAML_Roundtrip(t *testing.T) {
	s := NewDefaultStrategy("Roundtrip")
	data, err := Export(s, DefaultExportOptions())
	require.NoError(t, err)
	assert.Contains(t, string(data), "HYPERRSI backtest strategy configuration")

	imported, err := Import(data, DefaultImportOptions())
	require.NoError(t, err)
	assert.Equal(t, s.Metadata.Name, imported.Metadata.Name)
	assert.Equal(t, s.Parameters["leverage"], imported.Parameters["leverage"])
}

func TestExportImport_JSON_Roundtrip(t *testing.T) {
	s := NewDefaultStrategy("Roundtrip JSON")
	opts := DefaultExportOptions()
	opts.Format = FormatJSON

	data, err := Export(s, opts)
	require.NoError(t, err)

	imported, err := Import(data, DefaultImportOptions())
	require.NoError(t, err)
	assert.Equal(t, s.Metadata.Name, imported.Metadata.Name)
}

func TestImport_EmptyData(t *testing.T) {
	_, err := Import(nil, DefaultImportOptions())
	require.Error(t, err)
}

func TestImport_InvalidatesOnStrictValidation(t *testing.T) {
	s := NewDefaultStrategy("Bad")
	s.Parameters["leverage"] = -1.0
	data, err := Export(s, DefaultExportOptions())
	require.NoError(t, err)

	_, err = Import(data, DefaultImportOptions())
	require.Error(t, err)
}

func TestExportToFile_ImportFromFile(t *testing.T) {
	s := NewDefaultStrategy("FileRoundtrip")
	dir := t.TempDir()
	path := dir + "/strategy.yaml"

	require.NoError(t, ExportToFile(s, path, DefaultExportOptions()))

	imported, err := ImportFromFile(path, DefaultImportOptions())
	require.NoError(t, err)
	assert.Equal(t, s.Metadata.Name, imported.Metadata.Name)
}

func TestClone(t *testing.T) {
	s := NewDefaultStrategy("Original")
	c, err := Clone(s)
	require.NoError(t, err)

	assert.NotEqual(t, s.Metadata.ID, c.Metadata.ID)
	assert.Equal(t, "clone", c.Metadata.Source)
	assert.Equal(t, s.Parameters["leverage"], c.Parameters["leverage"])
}

func TestClone_Nil(t *testing.T) {
	_, err := Clone(nil)
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	base := NewDefaultStrategy("Base")
	override := &StrategyConfig{
		Metadata: StrategyMetadata{Name: "Overridden"},
		Parameters: map[string]interface{}{
			"leverage": 20.0,
		},
	}

	merged, err := Merge(base, override)
	require.NoError(t, err)

	assert.Equal(t, "Overridden", merged.Metadata.Name)
	assert.Equal(t, "merge", merged.Metadata.Source)
	assert.Equal(t, 20.0, merged.Parameters["leverage"])
	assert.Equal(t, base.Parameters["rsi_oversold"], merged.Parameters["rsi_oversold"])
}

func TestMerge_NilOverride(t *testing.T) {
	base := NewDefaultStrategy("Base")
	merged, err := Merge(base, nil)
	require.NoError(t, err)
	assert.Equal(t, base.Metadata.Name, merged.Metadata.Name)
}

func TestMerge_NilBase(t *testing.T) {
	_, err := Merge(nil, NewDefaultStrategy("x"))
	assert.Error(t, err)
}

func TestMigrate_AlreadyCurrent(t *testing.T) {
	s := NewDefaultStrategy("Test")
	require.NoError(t, Migrate(s))
	assert.Equal(t, SchemaVersion, s.Metadata.SchemaVersion)
}

func TestMigrate_From09(t *testing.T) {
	s := NewDefaultStrategy("Test")
	s.Metadata.SchemaVersion = "0.9"
	delete(s.Parameters, "fee_rate")

	require.NoError(t, Migrate(s))
	assert.Equal(t, SchemaVersion, s.Metadata.SchemaVersion)
	assert.Equal(t, 0.0005, s.Parameters["fee_rate"])
}

func TestCheckCompatibility(t *testing.T) {
	s := NewDefaultStrategy("Test")
	assert.NoError(t, CheckCompatibility(s))

	s.Metadata.SchemaVersion = "2.0"
	assert.Error(t, CheckCompatibility(s))
}

func TestCompareVersions(t *testing.T) {
	cmp, err := CompareVersions("1.0", "1.0")
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	cmp, err = CompareVersions("0.9", "1.0")
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)
}

func TestGetVersionInfo(t *testing.T) {
	s := NewDefaultStrategy("Test")
	info, err := GetVersionInfo(s)
	require.NoError(t, err)
	assert.True(t, info.IsCompatible)
	assert.False(t, info.RequiresMigration)
}
