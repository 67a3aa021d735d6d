package deployment

import "fmt"

// =============================================================================
// Build Descriptor Synthesis
// =============================================================================

// DockerfileName is the build descriptor file looked for in a merged tree.
const DockerfileName = "Dockerfile"

// StartScriptName is the entry script synthesized alongside a default
// Dockerfile.
const StartScriptName = "start.sh"

// SynthesizeDockerfile produces a minimal default Dockerfile for a merged
// tree that ships without one. The base image follows the detected language;
// anything that is neither python nor node gets a bare ubuntu image and
// relies entirely on the start script.
func SynthesizeDockerfile(language string, port int) string {
	switch language {
	case "python":
		return fmt.Sprintf(`FROM python:3.11-slim

WORKDIR /app

# Copy requirements first for better caching
COPY requirements.txt* ./
RUN if [ -f requirements.txt ]; then pip install --no-cache-dir -r requirements.txt; fi

# Copy application code
COPY . .

# Make start script executable
RUN chmod +x start.sh

# Expose port
EXPOSE %d

# Health check
HEALTHCHECK --interval=30s --timeout=10s --start-period=60s --retries=3 \
    CMD curl -f http://localhost:%d/health || exit 1

# Run application
CMD ["./start.sh"]
`, port, port)
	case "javascript", "typescript":
		return fmt.Sprintf(`FROM node:18-alpine

WORKDIR /app

# Copy package files first for better caching
COPY package*.json ./
RUN npm ci --only=production

# Copy application code
COPY . .

# Make start script executable
RUN chmod +x start.sh

# Expose port
EXPOSE %d

# Health check
HEALTHCHECK --interval=30s --timeout=10s --start-period=60s --retries=3 \
    CMD curl -f http://localhost:%d/health || exit 1

# Run application
CMD ["./start.sh"]
`, port, port)
	default:
		return fmt.Sprintf(`FROM ubuntu:22.04

# Install basic dependencies
RUN apt-get update && apt-get install -y \
    curl \
    wget \
    && rm -rf /var/lib/apt/lists/*

WORKDIR /app

# Copy application
COPY . .

# Make start script executable
RUN chmod +x start.sh

# Expose port
EXPOSE %d

# Health check
HEALTHCHECK --interval=30s --timeout=10s --start-period=60s --retries=3 \
    CMD curl -f http://localhost:%d/health || exit 1

# Start application
CMD ["./start.sh"]
`, port, port)
	}
}

// SynthesizeStartScript produces the default entry script for a framework.
// The script is deliberately forgiving: it installs dependencies when a
// manifest is present and tries the conventional entry points in order.
func SynthesizeStartScript(framework string, port int) string {
	switch framework {
	case "fastapi":
		return fmt.Sprintf(`#!/bin/bash
set -e

echo "Starting fastapi application..."

# Install dependencies if requirements.txt exists
if [ -f requirements.txt ]; then
    echo "Installing dependencies..."
    pip install -r requirements.txt
fi

# Start the application
if [ -f main.py ]; then
    uvicorn main:app --host 0.0.0.0 --port %d
elif [ -f app.py ]; then
    uvicorn app:app --host 0.0.0.0 --port %d
else
    python -m uvicorn main:app --host 0.0.0.0 --port %d
fi
`, port, port, port)
	case "flask":
		return fmt.Sprintf(`#!/bin/bash
set -e

echo "Starting flask application..."

# Install dependencies if requirements.txt exists
if [ -f requirements.txt ]; then
    echo "Installing dependencies..."
    pip install -r requirements.txt
fi

# Start the application
export FLASK_APP=main.py
export FLASK_RUN_HOST=0.0.0.0
export FLASK_RUN_PORT=%d
flask run
`, port)
	default:
		return `#!/bin/bash
set -e

echo "Starting application..."

# Start the application based on available files
if [ -f main.py ]; then
    python main.py
elif [ -f app.py ]; then
    python app.py
elif [ -f package.json ]; then
    npm start
else
    echo "No known entry point found"
    exit 1
fi
`
	}
}
