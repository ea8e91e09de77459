//go:build terraindebug

package terrain

// debugChecks включает проверки контрактов (выход за границы и т.п.).
const debugChecks = true
