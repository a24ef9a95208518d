package config

// GetAllSettings returns the non-secret settings currently loaded in memory.
func GetAllSettings() map[string]any {
	if Global == nil {
		return map[string]any{}
	}
	return map[string]any{
		"app_version":               Global.App.Version,
		"app_debug":                 Global.App.Debug,
		"db_driver":                 Global.Database.Driver,
		"valkey_enabled":            Global.Database.ValkeyEnabled,
		"credentials_encrypted":     Global.App.SecretKey != "",
		"ai_debounce_ms":            Global.AI.DebounceWindow.Milliseconds(),
		"ai_sweep_interval":         Global.AI.SweepInterval.String(),
		"ai_llm_timeout":            Global.AI.LLMTimeout.String(),
		"ai_max_attempts":           Global.AI.MaxAttempts,
		"ai_max_history_messages":   Global.AI.MaxHistoryMessages,
		"gateway_send_attempts":     Global.Gateway.SendAttempts,
		"speech_enabled":            Global.Speech.URL != "",
		"message_worker_pool_size":  Global.WorkerPool.Size,
		"message_worker_queue_size": Global.WorkerPool.QueueSize,
	}
}
