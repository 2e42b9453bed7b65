package backend

// Wire UUIDs fixed by spec.md §6. Every roster peer's GATT service and
// the aggregator's own advertised service share these values — they are
// part of the external contract, not configuration.
const (
	ServiceUUID        = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	CharacteristicUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
)
