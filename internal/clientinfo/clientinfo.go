// Package clientinfo holds the client identities the miner can impersonate.
// Each identity pairs the client URL the platform associates with the
// Client-ID and a pool of matching user agents; one agent is picked per
// process start.
package clientinfo

import "math/rand"

// Client identifies the miner to the platform.
type Client struct {
	URL       string
	ID        string
	UserAgent string
}

func pick(url, id string, agents ...string) Client {
	return Client{
		URL:       url,
		ID:        id,
		UserAgent: agents[rand.Intn(len(agents))],
	}
}

// Web is the desktop site identity.
func Web() Client {
	return pick(
		"https://www.twitch.tv",
		"kimne78kx3ncx6brgo4mv6wki5h1ko",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	)
}

// MobileWeb is the m.twitch.tv identity. Chrome versioning is done fully on
// Android only; other platforms would use the major version alone.
func MobileWeb() Client {
	return pick(
		"https://m.twitch.tv",
		"r8s4dac0uhzifbpu9sjdiwzctle17ff",
		"Mozilla/5.0 (Linux; Android 16) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/138.0.7204.158 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 16; SM-A205U) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/138.0.7204.158 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 16; SM-A102U) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/138.0.7204.158 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 16; SM-G960U) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/138.0.7204.158 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 16; SM-N960U) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/138.0.7204.158 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 16; LM-Q720) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/138.0.7204.158 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 16; LM-X420) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/138.0.7204.158 Mobile Safari/537.36",
	)
}

// AndroidApp is the native app identity and the default: it is the least
// restricted client for unauthenticated GraphQL access.
func AndroidApp() Client {
	return pick(
		"https://www.twitch.tv",
		"kd1unb4b3q4t58fwlpcbzcbnm76a8fp",
		"Dalvik/2.1.0 (Linux; U; Android 16; SM-S911B Build/TP1A.220624.014) "+
			"tv.twitch.android.app/25.3.0/2503006",
		"Dalvik/2.1.0 (Linux; U; Android 16; SM-S938B Build/BP2A.250605.031) "+
			"tv.twitch.android.app/25.3.0/2503006",
		"Dalvik/2.1.0 (Linux; Android 16; SM-X716N Build/UP1A.231005.007) "+
			"tv.twitch.android.app/25.3.0/2503006",
		"Dalvik/2.1.0 (Linux; U; Android 15; SM-G990B Build/AP3A.240905.015.A2) "+
			"tv.twitch.android.app/25.3.0/2503006",
		"Dalvik/2.1.0 (Linux; U; Android 15; SM-G970F Build/AP3A.241105.008) "+
			"tv.twitch.android.app/25.3.0/2503006",
		"Dalvik/2.1.0 (Linux; U; Android 15; SM-A566E Build/AP3A.240905.015.A2) "+
			"tv.twitch.android.app/25.3.0/2503006",
		"Dalvik/2.1.0 (Linux; U; Android 14; SM-X306B Build/UP1A.231005.007) "+
			"tv.twitch.android.app/25.3.0/2503006",
	)
}

// SmartBox is the Android TV identity.
func SmartBox() Client {
	return pick(
		"https://android.tv.twitch.tv",
		"ue6666qo983tsx6so1t0vnawi233wa",
		"Mozilla/5.0 (Linux; Android 7.1; Smart Box C1) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	)
}

// ByName resolves a DRIFTWATCH_CLIENT_TYPE value. Unknown names fall back to
// the Android app identity.
func ByName(name string) Client {
	switch name {
	case "web":
		return Web()
	case "mobile_web":
		return MobileWeb()
	case "smartbox":
		return SmartBox()
	default:
		return AndroidApp()
	}
}
