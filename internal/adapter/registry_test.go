package adapter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/adapter"
	"github.com/nerrad567/gray-logic-access/internal/adapter/adaptertest"
)

func TestNewRegistry_PriorityOrder(t *testing.T) {
	catchAll := adaptertest.NewFake("catch-all", adapter.ClassCatchAll)
	family := adaptertest.NewFake("http", adapter.ClassProtocolFamily)
	vendorA := adaptertest.NewFake("vendor-a", adapter.ClassVendor, "acme")
	vendorB := adaptertest.NewFake("vendor-b", adapter.ClassVendor, "globex")

	reg, err := adapter.NewRegistry(catchAll, family, vendorA, vendorB)
	require.NoError(t, err)

	var names []string
	for _, a := range reg.Adapters() {
		names = append(names, a.ProtocolName())
	}
	// Stable within a class.
	assert.Equal(t, []string{"vendor-a", "vendor-b", "http", "catch-all"}, names)

	descs := reg.Descriptors()
	require.Len(t, descs, 4)
	assert.Equal(t, 300, descs[0].Priority)
	assert.Equal(t, 200, descs[2].Priority)
	assert.Equal(t, 100, descs[3].Priority)
}

func TestNewRegistry_ManufacturerUnionAndFirstClaimWins(t *testing.T) {
	low := adaptertest.NewFake("low", adapter.ClassProtocolFamily, "Shared", "only-low")
	high := adaptertest.NewFake("high", adapter.ClassVendor, " SHARED ", "only-high")
	sameClassLater := adaptertest.NewFake("later", adapter.ClassVendor, "shared")

	reg, err := adapter.NewRegistry(low, high, sameClassLater)
	require.NoError(t, err)

	assert.Equal(t, []string{"only-high", "only-low", "shared"}, reg.Manufacturers())

	owner, ok := reg.ForManufacturer("sHaReD")
	require.True(t, ok)
	assert.Equal(t, "high", owner.ProtocolName())

	owner, ok = reg.ForManufacturer("only-low")
	require.True(t, ok)
	assert.Equal(t, "low", owner.ProtocolName())

	_, ok = reg.ForManufacturer("")
	assert.False(t, ok)
}

func TestNewRegistry_Rejects(t *testing.T) {
	_, err := adapter.NewRegistry(nil)
	assert.ErrorIs(t, err, adapter.ErrNilAdapter)

	_, err = adapter.NewRegistry(adaptertest.NewFake("  ", adapter.ClassVendor))
	assert.ErrorIs(t, err, adapter.ErrEmptyProtocolName)

	_, err = adapter.NewRegistry(
		adaptertest.NewFake("dup", adapter.ClassVendor),
		adaptertest.NewFake("dup", adapter.ClassCatchAll),
	)
	assert.ErrorIs(t, err, adapter.ErrAdapterExists)
}

func TestRegistry_AddRemove(t *testing.T) {
	reg, err := adapter.NewRegistry()
	require.NoError(t, err)
	assert.Zero(t, reg.Len())

	require.NoError(t, reg.Add(adaptertest.NewFake("a", adapter.ClassVendor, "acme")))
	assert.ErrorIs(t, reg.Add(adaptertest.NewFake("a", adapter.ClassVendor)), adapter.ErrAdapterExists)
	assert.ErrorIs(t, reg.Add(nil), adapter.ErrNilAdapter)

	_, ok := reg.ForManufacturer("acme")
	assert.True(t, ok)

	require.NoError(t, reg.Remove("a"))
	_, ok = reg.ForManufacturer("acme")
	assert.False(t, ok)
	assert.ErrorIs(t, reg.Remove("a"), adapter.ErrAdapterNotFound)
}

func TestRegistry_RemoveReleasesManufacturerClaim(t *testing.T) {
	high := adaptertest.NewFake("high", adapter.ClassVendor, "acme")
	low := adaptertest.NewFake("low", adapter.ClassProtocolFamily, "acme")
	reg, err := adapter.NewRegistry(high, low)
	require.NoError(t, err)

	require.NoError(t, reg.Remove("high"))
	owner, ok := reg.ForManufacturer("acme")
	require.True(t, ok)
	assert.Equal(t, "low", owner.ProtocolName())
}

func TestRegistry_ProtocolFamilyAndTypes(t *testing.T) {
	vendor := adaptertest.NewFake("vendor", adapter.ClassVendor, "acme").WithProtocolTypes("HTTP")
	family := adaptertest.NewFake("http", adapter.ClassProtocolFamily).WithProtocolTypes("http", "HTTPS")
	tcp := adaptertest.NewFake("tcp", adapter.ClassVendor).WithProtocolTypes("TCP")

	reg, err := adapter.NewRegistry(vendor, family, tcp)
	require.NoError(t, err)

	got, ok := reg.ProtocolFamily(" https ")
	require.True(t, ok)
	assert.Equal(t, "http", got.ProtocolName(), "vendor adapters are never the protocol family")

	got, ok = reg.ProtocolFamily("HTTP")
	require.True(t, ok)
	assert.Equal(t, "http", got.ProtocolName())

	_, ok = reg.ProtocolFamily("TCP")
	assert.False(t, ok)

	assert.Equal(t, []string{"HTTP", "HTTPS", "TCP"}, reg.ProtocolTypes())

	a, ok := reg.Get("tcp")
	require.True(t, ok)
	assert.Same(t, tcp, a)
}

func TestRegistry_ReinitializeEqualsFresh(t *testing.T) {
	mk := func() []adapter.ProtocolAdapter {
		return []adapter.ProtocolAdapter{
			adaptertest.NewFake("family", adapter.ClassProtocolFamily, "acme"),
			adaptertest.NewFake("vendor", adapter.ClassVendor, "acme", "globex"),
		}
	}

	reg, err := adapter.NewRegistry(mk()...)
	require.NoError(t, err)
	reg.Reinitialize()
	reg.Reinitialize()

	fresh, err := adapter.NewRegistry(mk()...)
	require.NoError(t, err)

	assert.Equal(t, fresh.Manufacturers(), reg.Manufacturers())
	assert.Equal(t, fresh.ProtocolTypes(), reg.ProtocolTypes())
	assert.Equal(t, fresh.Descriptors(), reg.Descriptors())

	owner, _ := reg.ForManufacturer("acme")
	freshOwner, _ := fresh.ForManufacturer("acme")
	assert.Equal(t, freshOwner.ProtocolName(), owner.ProtocolName())
}

func TestDescribe(t *testing.T) {
	f := adaptertest.NewFake("x", adapter.ClassVendor, " ZKTeco ", "", "Anviz").WithProtocolTypes("tcp")
	f.Features = []string{"remote_open"}

	desc := adapter.Describe(f)
	assert.Equal(t, "x", desc.ProtocolName)
	assert.Equal(t, []string{"zkteco", "anviz"}, desc.SupportedManufacturers)
	assert.Equal(t, []string{"TCP"}, desc.ProtocolTypes)
	assert.Equal(t, "vendor", desc.Class)
	assert.Equal(t, adapter.PriorityVendor, desc.Priority)
	assert.Equal(t, []string{"remote_open"}, desc.Features)
}

func TestClass(t *testing.T) {
	assert.Equal(t, 300, adapter.ClassVendor.Priority())
	assert.Equal(t, 200, adapter.ClassProtocolFamily.Priority())
	assert.Equal(t, 100, adapter.ClassCatchAll.Priority())
	assert.Equal(t, "catch_all", adapter.ClassCatchAll.String())
	assert.Equal(t, "protocol_family", adapter.ClassProtocolFamily.String())
}
