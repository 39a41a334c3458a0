package config

// Template is written by `xavier config init`.
const Template = `[data]
dir = "~/.xavier"

[logging]
level = "info"
format = "json"
output = "stdout"

[llm]
base_url = "https://api.deepseek.com"
api_key = "${DEEPSEEK_API_KEY}"
model = "deepseek-chat"
temperature = 0.7
max_tokens = 2048
timeout_seconds = 60
max_retries = 2

[agent]
addr = "127.0.0.1:8000"
max_tool_iterations = 10
tool_timeout_seconds = 30

[scheduler]
addr = "127.0.0.1:8001"
trigger_url = "http://127.0.0.1:8000/system_trigger"
trigger_timeout_seconds = 10
retry_attempts = 3

[auth]
users_file = "~/.xavier/users.yaml"
required = false

[tools.file]
enabled = true

[tools.fetch]
enabled = true

[tools.tasks]
enabled = true
scheduler_url = "http://127.0.0.1:8001"

# [[mcp.servers]]
# name = "search"
# command = "search-mcp"
# args = []
`
