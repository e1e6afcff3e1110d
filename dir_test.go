package packvfs

import (
	"os"
	"testing"

	"github.com/absfs/packvfs/pack"
)

func names(infos []os.FileInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name()
	}
	return out
}

func TestReadDirMerged(t *testing.T) {
	fsys, backend := newTestFS(t)
	writeFile(t, backend, "/mods/maps/Custom.bsp", "mod")
	writeFile(t, backend, "/mods/maps/e1m1.bsp", "override")
	writeFile(t, backend, "/base/maps/e1m1.bsp", "base map")
	writeFile(t, backend, "/base/readme.txt", "readme")
	writePack(t, backend, "/paks/pak0.pak", pack.Pack32, map[string]string{
		"maps/e1m1.bsp":        "packed",
		"maps/e1m2.bsp":        "packed two",
		"maps/textures/a.wal":  "tex",
		"sound/weapons/hit.wv": "snd",
	})
	fsys.AddSearchPath("/mods", "")
	fsys.AddSearchPathNoWrite("/base", "")
	fsys.AddPackFile("/paks/pak0.pak", "")

	infos, err := fsys.ReadDir("maps", "")
	if err != nil {
		t.Fatalf("failed to read maps: %v", err)
	}
	got := names(infos)
	want := []string{"Custom.bsp", "e1m1.bsp", "e1m2.bsp", "textures"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// The first search path wins for e1m1.bsp
	if infos[1].Size() != int64(len("override")) {
		t.Errorf("expected the /mods copy, size %d", infos[1].Size())
	}
	if !infos[3].IsDir() || infos[3].Mode()&os.ModeDir == 0 {
		t.Error("textures should be a directory")
	}
	if infos[2].Size() != int64(len("packed two")) || infos[2].Mode().Perm() != 0444 {
		t.Errorf("unexpected archive entry info: %d %v", infos[2].Size(), infos[2].Mode())
	}

	root, err := fsys.ReadDir("/", "")
	if err != nil {
		t.Fatalf("failed to read root: %v", err)
	}
	got = names(root)
	want = []string{"maps", "readme.txt", "sound"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if _, err := fsys.ReadDir("nope", ""); !os.IsNotExist(err) {
		t.Errorf("expected not exist, got %v", err)
	}
}

func TestStatMerged(t *testing.T) {
	fsys, backend := newTestFS(t)
	writeFile(t, backend, "/base/readme.txt", "readme")
	writePack(t, backend, "/paks/pak0.pak", pack.Pack32, map[string]string{
		"maps/e1m2.bsp": "packed two",
	})
	fsys.AddSearchPathNoWrite("/base", "GAME")
	fsys.AddPackFile("/paks/pak0.pak", "PAK")

	tests := []struct {
		name   string
		pathID string
		dir    bool
		size   int64
		exists bool
	}{
		{"", "", true, 0, true},
		{"/", "", true, 0, true},
		{"readme.txt", "", false, 6, true},
		{"maps", "", true, 0, true},
		{"maps/e1m2.bsp", "", false, 10, true},
		{"maps\\e1m2.bsp", "PAK", false, 10, true},
		{"maps/e1m2.bsp", "GAME", false, 0, false},
		{"missing", "", false, 0, false},
	}
	for _, tt := range tests {
		info, err := fsys.Stat(tt.name, tt.pathID)
		if !tt.exists {
			if !os.IsNotExist(err) {
				t.Errorf("%q: expected not exist, got %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: stat failed: %v", tt.name, err)
			continue
		}
		if info.IsDir() != tt.dir {
			t.Errorf("%q: expected dir=%v", tt.name, tt.dir)
		}
		if !tt.dir && info.Size() != tt.size {
			t.Errorf("%q: expected size %d, got %d", tt.name, tt.size, info.Size())
		}
	}

	info, _ := fsys.Stat("maps/e1m2.bsp", "")
	archive, _ := backend.Stat("/paks/pak0.pak")
	if !info.ModTime().Equal(archive.ModTime()) {
		t.Error("archive entries should carry the archive modification time")
	}
}
