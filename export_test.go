package rmsync

const (
	EntriesPerMapBucket   = entriesPerMapBucket
	MapLoadFactor         = mapLoadFactor
	DefaultMinMapTableLen = defaultMinMapTableLen
	DefaultMinMapTableCap = defaultMinMapTableLen * entriesPerMapBucket
	DefaultBTreeDegree    = defaultBTreeDegree
)

func DefaultHasher[T comparable]() func(T, uint64) uint64 {
	return defaultHasher[T]()
}

func MarshalKey[K comparable](key K) (string, error) {
	return marshalKey(key)
}

const MaxMapTableLen = maxMapTableLen

func TableLenFor(size int) int {
	return tableLenFor(size)
}
