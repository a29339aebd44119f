package approval

import "testing"

func TestMarkerBlocksSecondRequest(t *testing.T) {
	markers := newMarkerSet()
	if !markers.acquire("order-1|p1", "req-1") {
		t.Fatal("first acquire should succeed")
	}
	if markers.acquire("order-1|p1", "req-2") {
		t.Fatal("second acquire for the same target must fail")
	}
	if !markers.has("order-1|p1") {
		t.Fatal("marker should be held")
	}
}

func TestMarkerResolvesExactlyOnce(t *testing.T) {
	markers := newMarkerSet()
	markers.acquire("order-1|p1", "req-1")

	if !markers.resolve("order-1|p1", "req-1") {
		t.Fatal("first resolve should win")
	}
	if markers.resolve("order-1|p1", "req-1") {
		t.Fatal("second resolve must lose")
	}
	if markers.has("order-1|p1") {
		t.Fatal("resolved marker should be released")
	}
}

func TestMarkerResolveByWrongHolder(t *testing.T) {
	markers := newMarkerSet()
	markers.acquire("order-1|p1", "req-1")
	if markers.resolve("order-1|p1", "req-other") {
		t.Fatal("a request that never held the marker cannot resolve it")
	}
	if !markers.has("order-1|p1") {
		t.Fatal("marker must survive a failed resolve")
	}
}
