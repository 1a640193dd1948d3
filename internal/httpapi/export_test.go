package httpapi

// RequestHashForTest открывает buildRequestHash для внешних тестов пакета.
var RequestHashForTest = buildRequestHash
