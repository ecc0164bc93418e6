package translate

// Builtins returns a fresh instance of every built-in table translator.
func Builtins() []Translator {
	return []Translator{
		NameTranslator(),
		UnitTranslator(),
		StoreTranslator(),
		ItemTranslator(),
		LocationTranslator(),
		NameStoreJoinTranslator(),
		MasterListTranslator(),
		MasterListLineTranslator(),
		StockLineTranslator(),
		InvoiceTranslator(),
		InvoiceLineTranslator(),
		RequisitionTranslator(),
		RequisitionLineTranslator(),
	}
}

// Default returns a registry holding all built-in translators.
func Default() *Registry {
	return NewRegistry().MustRegister(Builtins()...)
}
