// Package i18n is a minimal translate(locale, key, params) lookup used by
// CommandParser and Notifier for every user-visible string.
package i18n

import "fmt"

// Supported locales.
const (
	Spanish = "es"
	English = "en"
)

// DisclaimerKey is appended, already translated, to every user-visible
// message except raw URL lines.
const DisclaimerKey = "disclaimer"

var catalog = map[string]map[string]string{
	Spanish: {
		"help":                      "Comandos: #osmnote <texto>, #osmstatus, #osmcount, #osmlist [n], #osmqueue, #osmnodes, #osmlang [es|en], #osmmorehelp",
		"morehelp":                  "#osmnote <texto>: crea una nota en OpenStreetMap usando tu última posición GPS. Máximo 200 caracteres.",
		"status":                    "Cola: %d pendientes. Internet: %s. Posición: %s.",
		"status_internet_ok":        "disponible",
		"status_internet_down":      "no disponible",
		"status_position_unknown":   "sin posición",
		"count":                     "Has enviado %d notas hoy, %d en total.",
		"list_empty":                "No tienes notas registradas.",
		"list_item":                 "%s: %s (%s)",
		"queue_size":                "Notas pendientes en la cola: %d.",
		"nodes_empty":               "No hay nodos con posición conocida.",
		"nodes_item":                "%s: (%.4f, %.4f) hace %s, visto %d veces",
		"lang_set":                  "Idioma cambiado a español.",
		"lang_invalid":              "Idioma no soportado. Usa 'es' o 'en'.",
		"note_queued":               "Nota recibida y en cola (%s). Se enviará a OpenStreetMap en breve.",
		"note_sent":                 "Tu nota %s fue publicada: %s%s",
		"note_sent_place":           " cerca de %s.",
		"note_failed":               "No se pudo publicar tu nota %s: %s",
		"reject_empty":              "El texto de la nota no puede estar vacío.",
		"reject_too_long":           "El texto de la nota supera los 200 caracteres.",
		"reject_no_gps":             "No hay una posición GPS reciente. Intenta de nuevo en unos segundos.",
		"reject_wait_gps":           "Esperando señal GPS, intenta de nuevo en %d segundos.",
		"reject_stale_gps":          "La posición GPS es demasiado antigua (más de 2 minutos).",
		"reject_invalid_coords":     "Coordenadas GPS inválidas.",
		"reject_rate_limited":       "Has enviado demasiadas notas. Espera un minuto e intenta de nuevo.",
		"reject_duplicate":          "Esta nota ya fue registrada recientemente.",
		"attribution_footer":        "\n\nEnviado vía LoRa Meshtastic OSM Notes Gateway.",
		"disclaimer":                "Este mensaje fue generado automáticamente; verifica la información en el terreno.",
		"summary_sent":              "%d notas fueron enviadas.",
		"broadcast_daily":           "Puerta de enlace OSM activa. Usa #osmhelp para ver los comandos disponibles.",
	},
	English: {
		"help":                      "Commands: #osmnote <text>, #osmstatus, #osmcount, #osmlist [n], #osmqueue, #osmnodes, #osmlang [es|en], #osmmorehelp",
		"morehelp":                  "#osmnote <text>: creates an OpenStreetMap note using your last GPS fix. Maximum 200 characters.",
		"status":                    "Queue: %d pending. Internet: %s. Position: %s.",
		"status_internet_ok":        "available",
		"status_internet_down":      "unavailable",
		"status_position_unknown":   "no position",
		"count":                     "You have sent %d notes today, %d in total.",
		"list_empty":                "You have no recorded notes.",
		"list_item":                 "%s: %s (%s)",
		"queue_size":                "Pending notes in the queue: %d.",
		"nodes_empty":               "No nodes with a known position.",
		"nodes_item":                "%s: (%.4f, %.4f) %s ago, seen %d times",
		"lang_set":                  "Language switched to English.",
		"lang_invalid":              "Unsupported language. Use 'es' or 'en'.",
		"note_queued":               "Note received and queued (%s). It will be submitted to OpenStreetMap shortly.",
		"note_sent":                 "Your note %s was published: %s%s",
		"note_sent_place":           " near %s.",
		"note_failed":               "Your note %s could not be published: %s",
		"reject_empty":              "Note text cannot be empty.",
		"reject_too_long":           "Note text exceeds 200 characters.",
		"reject_no_gps":             "No recent GPS fix. Try again in a few seconds.",
		"reject_wait_gps":           "Waiting for GPS fix, try again in %d seconds.",
		"reject_stale_gps":          "GPS fix is too old (more than 2 minutes).",
		"reject_invalid_coords":     "Invalid GPS coordinates.",
		"reject_rate_limited":       "Too many notes sent. Wait a minute and try again.",
		"reject_duplicate":          "This note was already recorded recently.",
		"attribution_footer":        "\n\nSent via LoRa Meshtastic OSM Notes Gateway.",
		"disclaimer":                "This message was generated automatically; verify conditions on the ground.",
		"summary_sent":              "%d notes were sent.",
		"broadcast_daily":           "OSM gateway online. Use #osmhelp to see available commands.",
	},
}

// Translate looks up key in locale's catalog and formats it with params. On
// a miss it falls back to the key itself rather
// than erroring, so a missing template never blocks a reply.
func Translate(locale, key string, params ...interface{}) string {
	table, ok := catalog[locale]
	if !ok {
		table = catalog[Spanish]
	}

	tmpl, ok := table[key]
	if !ok {
		return key
	}

	if len(params) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, params...)
}

// Supported reports whether locale is one of the gateway's shipped
// languages.
func Supported(locale string) bool {
	_, ok := catalog[locale]
	return ok
}
