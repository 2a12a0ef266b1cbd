package cdbx

import "testing"

func TestIteratorDistinctVsAll(t *testing.T) {
	assert := newAsserter(t)

	pairs := [][2]string{
		{"a", "1"},
		{"b", "2"},
		{"a", "3"}, // second value for "a"
		{"c", "4"},
	}
	fn := buildTempDB(t, pairs)
	rd, err := OpenReader(fn)
	assert(err == nil, "OpenReader: %v", err)
	defer rd.Close()

	itAll, err := rd.Items(true)
	assert(err == nil, "Items(true): %v", err)
	ks, vs, err := itAll.collectAll()
	assert(err == nil, "collectAll: %v", err)
	assert(len(ks) == 4, "expected 4 records with all=true, saw %d", len(ks))
	assert(string(vs[0]) == "1" && string(vs[1]) == "2" && string(vs[2]) == "3" && string(vs[3]) == "4",
		"unexpected file-order values: %q", vs)

	itDistinct, err := rd.Keys(false)
	assert(err == nil, "Keys(false): %v", err)
	seen := map[string]bool{}
	for {
		k, _, err := itDistinct.Next()
		assert(err == nil, "Next: %v", err)
		if k == nil {
			break
		}
		assert(!seen[string(k)], "key %q yielded twice in distinct mode", k)
		seen[string(k)] = true
	}
	assert(len(seen) == 3, "expected 3 distinct keys, saw %d", len(seen))
}

func TestIteratorValuesMode(t *testing.T) {
	assert := newAsserter(t)

	fn := buildTempDB(t, [][2]string{{"x", "10"}, {"y", "20"}})
	rd, err := OpenReader(fn)
	assert(err == nil, "OpenReader: %v", err)
	defer rd.Close()

	it, err := rd.Values(true)
	assert(err == nil, "Values: %v", err)
	_, vs, err := it.collectAll()
	assert(err == nil, "collectAll: %v", err)
	assert(len(vs) == 2, "expected 2 values, saw %d", len(vs))
}

func TestIteratorOnEmptyDB(t *testing.T) {
	assert := newAsserter(t)

	fn := buildTempDB(t, nil)
	rd, err := OpenReader(fn)
	assert(err == nil, "OpenReader: %v", err)
	defer rd.Close()

	it, err := rd.Items(true)
	assert(err == nil, "Items: %v", err)
	k, v, err := it.Next()
	assert(err == nil, "Next: %v", err)
	assert(k == nil && v == nil, "expected immediate exhaustion on empty db")
}

func TestIteratorCloseIsIdempotentAndStopsIteration(t *testing.T) {
	assert := newAsserter(t)

	fn := buildTempDB(t, [][2]string{{"k", "v"}})
	rd, err := OpenReader(fn)
	assert(err == nil, "OpenReader: %v", err)
	defer rd.Close()

	it, err := rd.Keys(true)
	assert(err == nil, "Keys: %v", err)
	assert(it.Close() == nil, "Close: unexpected error")
	assert(it.Close() == nil, "second Close: unexpected error")

	k, v, err := it.Next()
	assert(err == nil, "Next after Close: %v", err)
	assert(k == nil && v == nil, "expected no more records after Close")
}
