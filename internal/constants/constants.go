package constants

const USER_AGENT = "wpaccount/1.0 (+https://github.com/Amund211/wpaccount)"

const DEFAULT_WPCOM_API_BASE_URL = "https://public-api.wordpress.com/rest/v1.1"

const DEFAULT_PORT = "8080"

const DEFAULT_ALLOWED_ORIGIN = "wordpress.com"
