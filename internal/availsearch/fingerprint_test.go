package availsearch

import "testing"

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := Criteria{PractitionerIDs: []string{"p1", "p2"}, LocationIDs: []string{"l1"}, ServiceIDs: []string{"s1"}}
	b := Criteria{PractitionerIDs: []string{"p2", "p1"}, LocationIDs: []string{"l1"}, ServiceIDs: []string{"s1"}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("fingerprint should not depend on candidate-set ordering")
	}
}

func TestFingerprint_DiffersOnChange(t *testing.T) {
	a := Criteria{PractitionerIDs: []string{"p1"}, ServiceIDs: []string{"s1"}}
	b := Criteria{PractitionerIDs: []string{"p1"}, ServiceIDs: []string{"s2"}}
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatal("fingerprint should change when a candidate set changes")
	}
}
