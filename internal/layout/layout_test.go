package layout

import (
	"testing"

	"basalt/internal/mode"
)

func TestFixedOffsets(t *testing.T) {
	// Format constants; drift here breaks every existing volume.
	if V2Normal.HeaderOffset() != 0 {
		t.Error("V2 normal primary header must sit at offset 0")
	}
	if V2Normal.BackupHeaderOffset() != -65536 {
		t.Error("V2 normal backup header must sit 64 KiB before the end")
	}
	if V2Hidden.HeaderOffset() != 65536 {
		t.Error("V2 hidden header must sit at offset 65536")
	}
	if V2Hidden.BackupHeaderOffset() != -65536+512 {
		t.Error("V2 hidden backup header must follow the normal backup header")
	}
	if V1Normal.HeaderOffset() != 0 || V1Normal.HasBackupHeader() {
		t.Error("V1 normal: header at 0, no backup header")
	}
	if V1Hidden.HeaderOffset() != -1536 || V1Hidden.HasBackupHeader() {
		t.Error("V1 hidden: end-anchored header at -1536, no backup header")
	}
}

func TestTrialOrder(t *testing.T) {
	layouts := AvailableLayouts()
	want := []string{"V2 normal", "V2 hidden", "V1 normal", "V1 hidden"}
	if len(layouts) != len(want) {
		t.Fatalf("layout count = %d; want %d", len(layouts), len(want))
	}
	for i, l := range layouts {
		if l.Name() != want[i] {
			t.Errorf("layout[%d] = %s; want %s", i, l.Name(), want[i])
		}
	}
}

func TestLayoutsForType(t *testing.T) {
	for _, l := range LayoutsForType(TypeHidden) {
		if l.Type() != TypeHidden {
			t.Errorf("%s leaked into hidden trial list", l.Name())
		}
	}
	if n := len(LayoutsForType(TypeNormal)); n != 2 {
		t.Errorf("normal layout count = %d; want 2", n)
	}
}

func TestLegacyLayoutsRestrictAlgorithms(t *testing.T) {
	for _, k := range V1Normal.SupportedKdfs() {
		if !k.Legacy {
			t.Errorf("V1 admits modern KDF %s", k.Name)
		}
	}

	v2modes := V2Normal.SupportedModes()
	if len(v2modes) != 1 || v2modes[0].Name != mode.KindXTS.Name {
		t.Error("V2 must admit XTS only")
	}
	if len(V1Normal.SupportedModes()) != 3 {
		t.Error("V1 must admit XTS plus the legacy modes")
	}
}

func TestDefaultGeometry(t *testing.T) {
	const size = 10 << 20
	if V2Normal.DataStart(size) != HeaderGroupSize {
		t.Error("V2 data area must start after the header group")
	}
	if V2Normal.DataSize(size) != size-2*HeaderGroupSize {
		t.Error("V2 data area must exclude both header groups")
	}
	if V1Normal.DataStart(size) != 512 {
		t.Error("V1 data area must start right after the header")
	}
}
